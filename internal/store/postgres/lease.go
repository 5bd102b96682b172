package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"storypool/internal/store"
)

func (c *Client) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (*store.Lease, bool, error) {
	query := `
INSERT INTO leases (name, holder, token, expires_at)
VALUES ($1, $2, 1, now() + $3::interval)
ON CONFLICT (name) DO UPDATE SET
    holder = EXCLUDED.holder,
    token = leases.token + 1,
    expires_at = EXCLUDED.expires_at
WHERE leases.expires_at <= now() OR leases.holder = EXCLUDED.holder
RETURNING token, expires_at
`
	lease := &store.Lease{Name: name, Holder: holder}
	err := c.pool.QueryRow(ctx, query, name, holder, ttl).Scan(&lease.Token, &lease.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lease %q: %w", name, err)
	}
	return lease, true, nil
}

func (c *Client) ReleaseLease(ctx context.Context, name, holder string, token int64) error {
	_, err := c.pool.Exec(ctx, `
UPDATE leases SET expires_at = 'epoch' WHERE name = $1 AND holder = $2 AND token = $3`, name, holder, token)
	if err != nil {
		return fmt.Errorf("releasing lease %q: %w", name, err)
	}
	return nil
}
