// ABOUTME: Store methods for the config key/value table backing the runtime queue settings.
// ABOUTME: Keys and values are validated by package settings before they reach SetSetting.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/scarson/queuectl/internal/settings"
)

// Setting is one row of the config table.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// GetSetting returns the row for key, or (nil, nil) if it has never been set.
func (s *Store) GetSetting(ctx context.Context, key string) (*Setting, error) {
	var st Setting
	err := s.pool.QueryRow(ctx,
		`SELECT key, value, updated_at FROM config WHERE key = $1`, key,
	).Scan(&st.Key, &st.Value, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get setting %s: %w", key, err)
	}
	return &st, nil
}

// SetSetting inserts or overwrites the value for key.
func (s *Store) SetSetting(ctx context.Context, key, value string) (*Setting, error) {
	var st Setting
	err := s.pool.QueryRow(ctx, `
		INSERT INTO config (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
		RETURNING key, value, updated_at`,
		key, value,
	).Scan(&st.Key, &st.Value, &st.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("set setting %s: %w", key, err)
	}
	return &st, nil
}

// ListSettings returns all config rows ordered by key.
func (s *Store) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value, updated_at FROM config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Setting, error) {
		var st Setting
		err := row.Scan(&st.Key, &st.Value, &st.UpdatedAt)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return list, nil
}

// LoadSettings returns the typed settings, falling back to defaults for keys
// that are missing or malformed.
func (s *Store) LoadSettings(ctx context.Context) (settings.Settings, error) {
	list, err := s.ListSettings(ctx)
	if err != nil {
		return settings.Settings{}, err
	}
	entries := make([]settings.Entry, len(list))
	for i, st := range list {
		entries[i] = settings.Entry{Key: st.Key, Value: st.Value}
	}
	return settings.FromEntries(entries), nil
}
