package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-shield/internal/client"
)

// storeContract exercises behaviour every Store must share.
// advance moves the store's notion of time forward.
func storeContract(t *testing.T, s Store, advance func(time.Duration)) {
	ctx := context.Background()

	t.Run("missing_key", func(t *testing.T) {
		_, err := s.Get(ctx, "absent")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set_get_delete", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)

		require.NoError(t, s.Delete(ctx, "k"))
		_, err = s.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ttl_expiry", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "short", []byte("v"), 2*time.Second))
		require.NoError(t, s.Set(ctx, "forever", []byte("v"), 0))
		advance(3 * time.Second)

		_, err := s.Get(ctx, "short")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Get(ctx, "forever")
		assert.NoError(t, err)
	})

	t.Run("setnx", func(t *testing.T) {
		ok, err := s.SetNX(ctx, "lock", []byte("a"), 2*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.SetNX(ctx, "lock", []byte("b"), 2*time.Second)
		require.NoError(t, err)
		assert.False(t, ok)

		advance(3 * time.Second)
		ok, err = s.SetNX(ctx, "lock", []byte("c"), 2*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("delete_missing_is_noop", func(t *testing.T) {
		assert.NoError(t, s.Delete(ctx, "never-set"))
	})
}

func TestMemoryStore(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(func() time.Time { return now })
	defer s.Close()

	storeContract(t, s, func(d time.Duration) { now = now.Add(d) })
}

func TestMemoryStoreEvictsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, s.Set(ctx, "b", []byte("1"), time.Hour))
	now = now.Add(2 * time.Second)

	assert.Equal(t, 1, s.evictExpired())
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	buf := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", buf, 0))
	buf[0] = 'z'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := client.NewRedisClientFrom(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rc.Close() })
	return NewRedisStore(rc, "test:"), mr
}

func TestRedisStore(t *testing.T) {
	s, mr := newRedisStore(t)
	storeContract(t, s, mr.FastForward)
}

func TestRedisStorePrefixesKeys(t *testing.T) {
	s, mr := newRedisStore(t)
	require.NoError(t, s.Set(context.Background(), "k", []byte("v"), 0))
	assert.True(t, mr.Exists("test:k"))
}
