package repository

import (
	"context"
	"time"

	"github.com/rpattn/persway/internal/domain"
	"github.com/rpattn/persway/internal/metafield"
)

// ErrNotFound is returned when a customer or shop has no stored document.
var ErrNotFound = metafield.ErrNotFound

// ProfileRepository defines the interface for behavior profile persistence.
// Customer ids are bare (no GID prefix).
type ProfileRepository interface {
	Get(ctx context.Context, customerID string) (*domain.BehaviorProfile, error)
	GetMany(ctx context.Context, customerIDs []string) (map[string]*domain.BehaviorProfile, error)
	Save(ctx context.Context, customerID string, profile *domain.BehaviorProfile) error
}

// ProfileLister enumerates every stored profile.
type ProfileLister interface {
	List(ctx context.Context) ([]ProfileRecord, error)
}

// ProfileRecord is a stored profile with its owner.
type ProfileRecord struct {
	CustomerID string
	Profile    *domain.BehaviorProfile
	StoredAt   time.Time
}

// MigrationRepository defines the interface for migration bookkeeping.
type MigrationRepository interface {
	Get(ctx context.Context, customerID string) (*domain.MigrationRecord, error)
	Save(ctx context.Context, customerID string, record *domain.MigrationRecord) error
}

// AudienceRepository defines the interface for the shop audience document.
type AudienceRepository interface {
	Get(ctx context.Context) (*domain.ShopAudiences, error)
	Save(ctx context.Context, audiences *domain.ShopAudiences) error
}
