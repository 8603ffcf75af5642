package domain

import "time"

// MigrationRecordVersion is the schema version of migration bookkeeping.
const MigrationRecordVersion = "1.0"

// MigrationRecord is the per-customer log of anonymous-to-authenticated merges.
type MigrationRecord struct {
	Version        string           `json:"version"`
	Migrations     []MigrationEntry `json:"migrations"`
	MigrationStats MigrationStats   `json:"migration_stats"`
}

// MigrationEntry describes one migrated anonymous session.
type MigrationEntry struct {
	PerswayID      string         `json:"persway_id"`
	MigratedAt     time.Time      `json:"migrated_at"`
	SessionStart   string         `json:"session_start"`
	EventsCount    int            `json:"events_count"`
	PreAuthSummary SessionSummary `json:"pre_auth_summary"`
}

// MigrationStats only ever grows.
type MigrationStats struct {
	TotalMigrations int        `json:"total_migrations"`
	LastMigration   *time.Time `json:"last_migration"`
}

// SessionSummary is what the pixel knew about the anonymous session before login.
type SessionSummary struct {
	SessionStart      string   `json:"session_start"`
	PagesViewed       int      `json:"pages_viewed"`
	ProductsViewed    int      `json:"products_viewed"`
	TimeSpent         float64  `json:"time_spent"`
	CategoriesBrowsed []string `json:"categories_browsed"`
}

// NewMigrationRecord returns an empty record.
func NewMigrationRecord() *MigrationRecord {
	return &MigrationRecord{
		Version:    MigrationRecordVersion,
		Migrations: []MigrationEntry{},
	}
}
