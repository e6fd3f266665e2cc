package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrStateNotFound is returned by GetState when the key has never been
// written or has been deleted.
var ErrStateNotFound = errors.New("state key not found")

// GetState returns the raw value stored under key.
func (s *Store) GetState(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.Reader.QueryRowContext(ctx, `SELECT value FROM local_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

// PutState replaces the value stored under key.
func (s *Store) PutState(ctx context.Context, key string, value []byte) error {
	_, err := s.Writer.ExecContext(ctx, `
INSERT INTO local_state(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value,
    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`, key, value)
	if err != nil {
		return fmt.Errorf("put state %s: %w", key, err)
	}
	return nil
}

// DeleteState removes key. Deleting a missing key is not an error.
func (s *Store) DeleteState(ctx context.Context, key string) error {
	if _, err := s.Writer.ExecContext(ctx, `DELETE FROM local_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}
