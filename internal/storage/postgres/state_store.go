package postgres

import (
	"context"
	"fmt"

	"tradecore/internal/storage"
)

// StateStore implements storage.StateStore using PostgreSQL.
type StateStore struct {
	pool *Pool
}

// NewStateStore creates a new StateStore.
func NewStateStore(pool *Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StateStore = (*StateStore)(nil)

// Save writes data under key, replacing any previous value.
func (s *StateStore) Save(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO engine_state (key, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, key, data); err != nil {
		return fmt.Errorf("save engine state: %w", err)
	}
	return nil
}

// Load retrieves the value stored under key. Returns ErrNotFound if the
// key has never been saved.
func (s *StateStore) Load(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM engine_state WHERE key = $1`, key).Scan(&data)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load engine state: %w", err)
	}
	return data, nil
}

// Delete removes the value under key. Deleting a missing key is a no-op.
func (s *StateStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM engine_state WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete engine state: %w", err)
	}
	return nil
}
