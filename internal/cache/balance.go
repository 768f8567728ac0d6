// Package cache holds the fast copy of each user's balance and version.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ErrCorrupt marks a cached value that does not parse; rereading it will not help.
var ErrCorrupt = errors.New("cache: corrupt value")

func BalanceKey(userID string) string { return "user_balance:" + userID }
func VersionKey(userID string) string { return "user_balance_version:" + userID }

// Entry is one user's published state.
type Entry struct {
	UserID  string
	Balance decimal.Decimal
	Version int64
}

type BalanceCache struct {
	rdb redis.Cmdable
}

func NewBalanceCache(rdb redis.Cmdable) *BalanceCache {
	return &BalanceCache{rdb: rdb}
}

// Balance returns the cached balance; ok is false on a miss.
func (c *BalanceCache) Balance(ctx context.Context, userID string) (decimal.Decimal, bool, error) {
	raw, err := c.rdb.Get(ctx, BalanceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("%w: balance of %s: %w", ErrCorrupt, userID, err)
	}
	return d, true, nil
}

// Versions reads the believed version of every user; a missing key is 0.
func (c *BalanceCache) Versions(ctx context.Context, userIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = VersionKey(id)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			out[userIDs[i]] = 0
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: version of %s: %w", ErrCorrupt, userIDs[i], err)
		}
		out[userIDs[i]] = n
	}
	return out, nil
}

// Publish writes balance and version of every entry in one pipeline, without expiry.
func (c *BalanceCache) Publish(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, e := range entries {
			p.Set(ctx, BalanceKey(e.UserID), e.Balance.String(), 0)
			p.Set(ctx, VersionKey(e.UserID), e.Version, 0)
		}
		return nil
	})
	return err
}
