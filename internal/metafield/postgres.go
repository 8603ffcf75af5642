package metafield

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps metafields in the metafields table as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, ref Ref) ([]byte, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres metafield store not initialized")
	}

	var value []byte
	err := s.pool.QueryRow(
		ctx,
		`SELECT value FROM metafields
		 WHERE owner_id = $1 AND namespace = $2 AND key = $3`,
		ref.OwnerID,
		ref.Namespace,
		ref.Key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get metafield %s: %w", ref, err)
	}
	return value, nil
}

func (s *PostgresStore) GetMany(ctx context.Context, namespace, key string, ownerIDs []string) (map[string][]byte, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres metafield store not initialized")
	}
	out := make(map[string][]byte, len(ownerIDs))
	if len(ownerIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(
		ctx,
		`SELECT owner_id, value FROM metafields
		 WHERE namespace = $1 AND key = $2 AND owner_id = ANY($3)`,
		namespace,
		key,
		ownerIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get metafields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			owner string
			value []byte
		)
		if scanErr := rows.Scan(&owner, &value); scanErr != nil {
			return nil, fmt.Errorf("failed to scan metafield: %w", scanErr)
		}
		out[owner] = value
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate metafields: %w", rowsErr)
	}
	return out, nil
}

func (s *PostgresStore) Set(ctx context.Context, ref Ref, value []byte) error {
	if s.pool == nil {
		return fmt.Errorf("postgres metafield store not initialized")
	}

	_, err := s.pool.Exec(
		ctx,
		`INSERT INTO metafields (owner_id, namespace, key, value, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (owner_id, namespace, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		ref.OwnerID,
		ref.Namespace,
		ref.Key,
		string(value),
	)
	if err != nil {
		return fmt.Errorf("failed to set metafield %s: %w", ref, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, namespace, key string) ([]Entry, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres metafield store not initialized")
	}

	rows, err := s.pool.Query(
		ctx,
		`SELECT owner_id, value, updated_at FROM metafields
		 WHERE namespace = $1 AND key = $2
		 ORDER BY owner_id`,
		namespace,
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list metafields: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var entry Entry
		if scanErr := rows.Scan(&entry.OwnerID, &entry.Value, &entry.UpdatedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan metafield: %w", scanErr)
		}
		entries = append(entries, entry)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate metafields: %w", rowsErr)
	}
	return entries, nil
}
