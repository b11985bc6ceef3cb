// Package metadata is a small key/value table for sync bookkeeping such as
// the last seen remote identities.
package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/photocatalog/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get returns nil, nil when key is absent.
func (r *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete metadata[%s]: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (r *SQLiteRepository) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM metadata WHERE substr(key, 1, length(?)) = ?`, prefix, prefix)
	if err != nil {
		return fmt.Errorf("failed to delete metadata prefix %q: %w", prefix, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) (map[string][]byte, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM metadata`)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		result[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metadata rows: %w", err)
	}

	return result, nil
}

// GetJSON decodes the value at key into v. It reports false when the key is
// absent and leaves v untouched.
func GetJSON[T any](ctx context.Context, r *SQLiteRepository, key string, v *T) (bool, error) {
	b, err := r.Get(ctx, key)
	if err != nil || b == nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("failed to decode metadata[%s]: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v at key as JSON.
func SetJSON[T any](ctx context.Context, r *SQLiteRepository, key string, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode metadata[%s]: %w", key, err)
	}
	return r.Set(ctx, key, b)
}
