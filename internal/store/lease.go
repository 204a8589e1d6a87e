package store

import (
	"context"
	"fmt"
	"time"

	"github.com/prohmpiriya/booking-orchestrator/internal/bookingerr"
	"github.com/prohmpiriya/booking-orchestrator/pkg/redis"
)

// RedisLeaseManager backs single-writer ownership with Redis SetNX, the
// same primitive pkg/redis exposes for distributed locks elsewhere in
// this codebase. It is independent of the aggregate's own embedded Lease
// field, which is what Engine.Drive checks; cmd/saga-worker constructs one,
// but nothing in this module calls it.
type RedisLeaseManager struct {
	client *redis.Client
	prefix string
}

// NewRedisLeaseManager wraps an already-connected client.
func NewRedisLeaseManager(client *redis.Client) *RedisLeaseManager {
	return &RedisLeaseManager{client: client, prefix: "booking:lease:"}
}

func (m *RedisLeaseManager) key(bookingID string) string {
	return m.prefix + bookingID
}

// Acquire claims the lease for owner, succeeding either when the key is
// absent or already held by the same owner (lease renewal).
func (m *RedisLeaseManager) Acquire(ctx context.Context, bookingID, owner string, ttl time.Duration) error {
	ok, err := m.client.SetNX(ctx, m.key(bookingID), owner, ttl).Result()
	if err != nil {
		return fmt.Errorf("lease setnx: %w", err)
	}
	if ok {
		return nil
	}

	current, err := m.client.Get(ctx, m.key(bookingID)).Result()
	if err != nil {
		return fmt.Errorf("lease get: %w", err)
	}
	if current != owner {
		return bookingerr.LeaseLost(bookingerr.ErrLeaseHeldByOther)
	}

	if ok, err := m.client.Expire(ctx, m.key(bookingID), ttl).Result(); err != nil {
		return fmt.Errorf("lease renew: %w", err)
	} else if !ok {
		return bookingerr.LeaseLost(bookingerr.ErrLeaseHeldByOther)
	}
	return nil
}

// Release drops the lease, but only if owner still holds it, so a
// worker that already lost its lease to someone else can't release the
// new owner's.
func (m *RedisLeaseManager) Release(ctx context.Context, bookingID, owner string) error {
	current, err := m.client.Get(ctx, m.key(bookingID)).Result()
	if err != nil {
		return nil // already gone; release is best-effort
	}
	if current != owner {
		return nil
	}
	return m.client.Del(ctx, m.key(bookingID)).Err()
}

// Holder returns the current lease owner, or "" if unheld.
func (m *RedisLeaseManager) Holder(ctx context.Context, bookingID string) (string, error) {
	owner, err := m.client.Get(ctx, m.key(bookingID)).Result()
	if err != nil {
		return "", nil
	}
	return owner, nil
}
