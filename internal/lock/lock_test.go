package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewManager(rdb, 5*time.Second)
}

func TestAcquireIsExclusive(t *testing.T) {
	mr, m := newManager(t)
	ctx := context.Background()

	ok, err := m.Acquire(ctx, Key("u1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, mr.TTL(Key("u1")))

	ok, err = m.Acquire(ctx, Key("u1"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Release(ctx, Key("u1")))
	ok, err = m.Acquire(ctx, Key("u1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockExpires(t *testing.T) {
	mr, m := newManager(t)
	ctx := context.Background()
	ok, _ := m.Acquire(ctx, Key("u1"))
	require.True(t, ok)

	mr.FastForward(6 * time.Second)
	ok, err := m.Acquire(ctx, Key("u1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireAllReleasesOnFailure(t *testing.T) {
	mr, m := newManager(t)
	ctx := context.Background()
	require.NoError(t, mr.Set(Key("u2"), "1"))

	held, err := m.AcquireAll(ctx, []string{"u1", "u2", "u3"})
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.Nil(t, held)
	assert.False(t, mr.Exists(Key("u1")))
	assert.False(t, mr.Exists(Key("u3")))
	assert.True(t, mr.Exists(Key("u2")))
}

func TestAcquireAllAndReleaseAll(t *testing.T) {
	mr, m := newManager(t)
	ctx := context.Background()

	held, err := m.AcquireAll(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{Key("a"), Key("b")}, held)

	require.NoError(t, m.ReleaseAll(ctx, held))
	assert.Empty(t, mr.Keys())
}
