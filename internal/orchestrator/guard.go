package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storypool/internal/store"
)

// ErrTickInProgress means another invocation holds the guard. The caller
// skips this invocation rather than queueing it.
var ErrTickInProgress = errors.New("tick already in progress")

const (
	TickLease         = "orchestrator"
	RelationshipLease = "relationships"
)

// Guard is a store-backed lease that keeps invocations from overlapping,
// across processes as well as within one. Each acquisition carries a
// fencing token that only increases.
type Guard struct {
	leases store.Leases
	name   string
	holder string
	ttl    time.Duration
}

func NewGuard(leases store.Leases, name, holder string, ttl time.Duration) *Guard {
	return &Guard{leases: leases, name: name, holder: holder, ttl: ttl}
}

// Acquire returns ErrTickInProgress when someone else holds an unexpired
// lease.
func (g *Guard) Acquire(ctx context.Context) (*store.Lease, error) {
	lease, ok, err := g.leases.AcquireLease(ctx, g.name, g.holder, g.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquiring %s lease: %w", g.name, err)
	}
	if !ok {
		return nil, ErrTickInProgress
	}
	return lease, nil
}

// Release gives the lease up. A stale token is a no-op.
func (g *Guard) Release(ctx context.Context, lease *store.Lease) error {
	return g.leases.ReleaseLease(ctx, lease.Name, lease.Holder, lease.Token)
}
