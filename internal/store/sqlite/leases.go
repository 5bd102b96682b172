package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storypool/internal/store"
)

// AcquireLease inserts or takes over the named lease when it is free, expired,
// or already held by holder. The token increases on every acquisition.
func (c *Client) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (*store.Lease, bool, error) {
	now := time.Now()
	expires := now.Add(ttl)

	query := `
	INSERT INTO leases (name, holder, token, expires_at)
	VALUES (?, ?, 1, ?)
	ON CONFLICT (name) DO UPDATE SET
		holder = excluded.holder,
		token = leases.token + 1,
		expires_at = excluded.expires_at
	WHERE leases.expires_at <= ? OR leases.holder = excluded.holder
	RETURNING token
	`
	var token int64
	err := c.db.QueryRowContext(ctx, query, name, holder, formatTime(expires), formatTime(now)).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lease %q: %w", name, err)
	}

	return &store.Lease{Name: name, Holder: holder, Token: token, ExpiresAt: expires.UTC()}, true, nil
}

// ReleaseLease expires the lease if holder still owns it under token. The row
// stays so the token sequence keeps increasing.
func (c *Client) ReleaseLease(ctx context.Context, name, holder string, token int64) error {
	_, err := c.db.ExecContext(ctx, `
	UPDATE leases SET expires_at = ? WHERE name = ? AND holder = ? AND token = ?`,
		formatTime(time.Unix(0, 0)), name, holder, token)
	if err != nil {
		return fmt.Errorf("releasing lease %q: %w", name, err)
	}
	return nil
}
