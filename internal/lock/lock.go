// Package lock provides per-user mutual exclusion on top of redis SET NX EX.
// The TTL only frees the lock of a crashed holder; the row lock in the
// durable store is what orders writers.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotAcquired = errors.New("lock: held by another owner")

func Key(userID string) string { return "user_balance_lock:" + userID }

type Manager struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewManager(rdb redis.Cmdable, ttl time.Duration) *Manager {
	return &Manager{rdb: rdb, ttl: ttl}
}

// Acquire creates the marker for key if it is absent.
func (m *Manager) Acquire(ctx context.Context, key string) (bool, error) {
	return m.rdb.SetNX(ctx, key, "1", m.ttl).Result()
}

// Release deletes the marker unconditionally.
func (m *Manager) Release(ctx context.Context, key string) error {
	return m.rdb.Del(ctx, key).Err()
}

// AcquireAll locks every user in the given order. On the first failure the
// locks taken so far are released and nothing is returned held.
func (m *Manager) AcquireAll(ctx context.Context, userIDs []string) ([]string, error) {
	held := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		key := Key(id)
		ok, err := m.Acquire(ctx, key)
		if err != nil || !ok {
			_ = m.ReleaseAll(context.WithoutCancel(ctx), held)
			if err == nil {
				err = ErrNotAcquired
			}
			return nil, fmt.Errorf("user %s: %w", id, err)
		}
		held = append(held, key)
	}
	return held, nil
}

// ReleaseAll releases every key, returning the first error seen.
func (m *Manager) ReleaseAll(ctx context.Context, keys []string) error {
	var first error
	for _, k := range keys {
		if err := m.Release(ctx, k); err != nil && first == nil {
			first = err
		}
	}
	return first
}
