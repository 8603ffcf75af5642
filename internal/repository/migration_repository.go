package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/persway/internal/domain"
	"github.com/rpattn/persway/internal/metafield"
)

type migrationRepository struct {
	store metafield.Store
}

// NewMigrationRepository wires a repository backed by a metafield store.
func NewMigrationRepository(store metafield.Store) MigrationRepository {
	return &migrationRepository{store: store}
}

func (r *migrationRepository) Get(ctx context.Context, customerID string) (*domain.MigrationRecord, error) {
	var record domain.MigrationRecord
	if err := metafield.Fetch(ctx, r.store, metafield.MigrationData, domain.CustomerGID(customerID), &record); err != nil {
		if errors.Is(err, metafield.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get customer migration data: %w", err)
	}
	if record.Migrations == nil {
		record.Migrations = []domain.MigrationEntry{}
	}
	return &record, nil
}

func (r *migrationRepository) Save(ctx context.Context, customerID string, record *domain.MigrationRecord) error {
	if record == nil {
		return fmt.Errorf("migration record is required")
	}
	return metafield.Put(ctx, r.store, metafield.MigrationData, domain.CustomerGID(customerID), record)
}
