package metafield

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS metafields (
	owner_id   TEXT NOT NULL,
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (owner_id, namespace, key)
);
CREATE INDEX IF NOT EXISTS idx_metafields_namespace_key ON metafields(namespace, key);
`

// SQLiteStore is a single-file metafield store for local runs and tests.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path. Use ":memory:" for an
// ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open metafield db: %w", err)
	}
	// a :memory: database exists per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, ref Ref) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT value FROM metafields WHERE owner_id = ? AND namespace = ? AND key = ?`,
		ref.OwnerID, ref.Namespace, ref.Key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get metafield %s: %w", ref, err)
	}
	return []byte(value), nil
}

func (s *SQLiteStore) GetMany(ctx context.Context, namespace, key string, ownerIDs []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(ownerIDs))
	if len(ownerIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ownerIDs)), ",")
	args := make([]any, 0, len(ownerIDs)+2)
	args = append(args, namespace, key)
	for _, id := range ownerIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT owner_id, value FROM metafields
		 WHERE namespace = ? AND key = ? AND owner_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get metafields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var owner, value string
		if err := rows.Scan(&owner, &value); err != nil {
			return nil, fmt.Errorf("failed to scan metafield: %w", err)
		}
		out[owner] = []byte(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metafields: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Set(ctx context.Context, ref Ref, value []byte) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO metafields (owner_id, namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id, namespace, key)
		 DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		ref.OwnerID, ref.Namespace, ref.Key, string(value), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set metafield %s: %w", ref, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, namespace, key string) ([]Entry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT owner_id, value, updated_at FROM metafields
		 WHERE namespace = ? AND key = ?
		 ORDER BY owner_id`,
		namespace, key,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list metafields: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			entry Entry
			value string
		)
		if err := rows.Scan(&entry.OwnerID, &value, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan metafield: %w", err)
		}
		entry.Value = []byte(value)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metafields: %w", err)
	}
	return entries, nil
}
