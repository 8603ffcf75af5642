package behavior

import "github.com/rpattn/persway/internal/domain"

// MaxMigrationEntries bounds MigrationRecord.Migrations.
const MaxMigrationEntries = 10

// RecordMigration appends entry to the record, evicting the oldest entries past
// MaxMigrationEntries, and bumps the migration stats. A nil record is replaced
// by a fresh one; the updated record is returned.
func (a *Aggregator) RecordMigration(record *domain.MigrationRecord, entry domain.MigrationEntry) *domain.MigrationRecord {
	if record == nil {
		record = domain.NewMigrationRecord()
	}
	if record.Version == "" {
		record.Version = domain.MigrationRecordVersion
	}

	now := a.Now()
	if entry.MigratedAt.IsZero() {
		entry.MigratedAt = now
	}

	record.Migrations = append(record.Migrations, entry)
	if over := len(record.Migrations) - MaxMigrationEntries; over > 0 {
		record.Migrations = append([]domain.MigrationEntry(nil), record.Migrations[over:]...)
	}

	record.MigrationStats.TotalMigrations++
	record.MigrationStats.LastMigration = &now
	return record
}
