package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lavaops/stationd/internal/apperrors"
)

type TokenStore struct {
	DB DBTX
}

const getValue = `-- name: Get value by key
SELECT value
FROM station_kv
WHERE key = $1
`

func (s *TokenStore) Get(ctx context.Context, key string) (string, error) {
	rows, _ := s.DB.Query(ctx, getValue, key)
	value, err := pgx.CollectOneRow(rows, pgx.RowTo[string])

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, pgx.ErrNoRows):
		return "", fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
	default:
		return "", fmt.Errorf("db error: %w", err)
	}
}

const setValue = `-- name: Set value for key
INSERT INTO station_kv (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, updated_at = now()
`

func (s *TokenStore) Set(ctx context.Context, key string, value string) error {
	_, err := s.DB.Exec(ctx, setValue, key, value)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const removeValue = `-- name: Remove key
DELETE FROM station_kv
WHERE key = $1
`

// Remove key
// Removing a missing key is fine, nothing to report
func (s *TokenStore) Remove(ctx context.Context, key string) error {
	_, err := s.DB.Exec(ctx, removeValue, key)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
