// Package sqlite implements storage.StateStore on a single-file sqlite
// database, for running the engine durably without a database server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tradecore/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS engine_state (
	key TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// StateStore persists engine snapshots in a sqlite file.
type StateStore struct {
	db *sql.DB
}

// NewStateStore opens (or creates) the database at path and ensures the
// schema.
func NewStateStore(path string) (*StateStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}

	return &StateStore{db: db}, nil
}

// Compile-time interface check.
var _ storage.StateStore = (*StateStore)(nil)

// Save writes data under key, replacing any previous value.
func (s *StateStore) Save(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_state (key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, data, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save engine state: %w", err)
	}
	return nil
}

// Load retrieves the value stored under key. Returns ErrNotFound if the
// key has never been saved.
func (s *StateStore) Load(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM engine_state WHERE key = ?`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load engine state: %w", err)
	}
	return data, nil
}

// Delete removes the value under key. Deleting a missing key is a no-op.
func (s *StateStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM engine_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete engine state: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *StateStore) Close() error {
	return s.db.Close()
}
