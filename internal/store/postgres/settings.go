package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"storypool/internal/store"
)

func (c *Client) GetSetting(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := c.pool.QueryRow(ctx, `SELECT value FROM system_config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("setting %q: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting setting: %w", err)
	}
	return []byte(value), nil
}

func (c *Client) PutSetting(ctx context.Context, key string, value []byte) error {
	_, err := c.pool.Exec(ctx, `
INSERT INTO system_config (key, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`, key, string(value))
	if err != nil {
		return fmt.Errorf("putting setting: %w", err)
	}
	return nil
}

func (c *Client) DeleteSetting(ctx context.Context, key string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM system_config WHERE key = $1`, key); err != nil {
		return fmt.Errorf("deleting setting: %w", err)
	}
	return nil
}
