package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) (*miniredis.Miniredis, *BalanceCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewBalanceCache(rdb)
}

func TestBalanceMiss(t *testing.T) {
	_, c := newCache(t)
	_, ok, err := c.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPublishThenRead(t *testing.T) {
	mr, c := newCache(t)
	ctx := context.Background()
	err := c.Publish(ctx, []Entry{
		{UserID: "u1", Balance: decimal.RequireFromString("100.5"), Version: 2},
		{UserID: "u2", Balance: decimal.NewFromInt(-3), Version: 7},
	})
	require.NoError(t, err)

	bal, ok, err := c.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, decimal.RequireFromString("100.5").Equal(bal))

	vs, err := c.Versions(ctx, []string{"u1", "u2", "u3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"u1": 2, "u2": 7, "u3": 0}, vs)

	assert.Equal(t, "2", mustGet(t, mr, VersionKey("u1")))
	assert.Zero(t, mr.TTL(BalanceKey("u1")))
}

func TestVersionsRejectsGarbage(t *testing.T) {
	mr, c := newCache(t)
	require.NoError(t, mr.Set(VersionKey("u1"), "nope"))
	_, err := c.Versions(context.Background(), []string{"u1"})
	assert.ErrorIs(t, err, ErrCorrupt)

	require.NoError(t, mr.Set(BalanceKey("u1"), "12abc"))
	_, _, err = c.Balance(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
