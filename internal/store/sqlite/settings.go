package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storypool/internal/store"
)

func (c *Client) GetSetting(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM system_config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("setting %q: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting setting: %w", err)
	}
	return []byte(value), nil
}

func (c *Client) PutSetting(ctx context.Context, key string, value []byte) error {
	_, err := c.db.ExecContext(ctx, `
	INSERT INTO system_config (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(value), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("putting setting: %w", err)
	}
	return nil
}

func (c *Client) DeleteSetting(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM system_config WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting setting: %w", err)
	}
	return nil
}
