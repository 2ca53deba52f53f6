package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, time.Second), mr
}

func TestCache_SetGet(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		c, _ := newTestCache(t)

		require.NoError(t, c.Set(ctx, "key", "value", time.Minute))

		value, found, err := c.Get(ctx, "key")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "value", value)
	})

	t.Run("missing key is not an error", func(t *testing.T) {
		c, _ := newTestCache(t)

		_, found, err := c.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("value expires", func(t *testing.T) {
		c, mr := newTestCache(t)

		require.NoError(t, c.Set(ctx, "key", "value", time.Minute))
		mr.FastForward(time.Minute + time.Second)

		_, found, err := c.Get(ctx, "key")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestCache_Exists(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	exists, err := c.Exists(ctx, "key")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.Set(ctx, "key", "value", time.Minute))

	exists, err = c.Exists(ctx, "key")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCache_IncrExpire(t *testing.T) {
	ctx := context.Background()

	t.Run("incr counts from one", func(t *testing.T) {
		c, _ := newTestCache(t)

		n, err := c.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = c.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("expire attaches a ttl", func(t *testing.T) {
		c, mr := newTestCache(t)

		_, err := c.Incr(ctx, "counter")
		require.NoError(t, err)
		require.NoError(t, c.Expire(ctx, "counter", time.Minute))

		ttl, err := c.TTL(ctx, "counter")
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))

		mr.FastForward(time.Minute + time.Second)

		exists, err := c.Exists(ctx, "counter")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestCache_TTL(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	t.Run("missing key reports zero", func(t *testing.T) {
		ttl, err := c.TTL(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), ttl)
	})

	t.Run("key without expiry reports zero", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "forever", "value", 0))

		ttl, err := c.TTL(ctx, "forever")
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), ttl)
	})
}

func TestCache_ClosedBackend(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	mr.Close()

	assert.Error(t, c.Set(ctx, "key", "value", time.Minute))

	_, _, err := c.Get(ctx, "key")
	assert.Error(t, err)

	_, err = c.Incr(ctx, "counter")
	assert.Error(t, err)

	assert.Error(t, c.Ping(ctx))
}

func TestNewFromURL(t *testing.T) {
	t.Run("invalid url is rejected", func(t *testing.T) {
		_, err := NewFromURL("not a url", time.Second)
		assert.Error(t, err)
	})

	t.Run("valid url dials", func(t *testing.T) {
		mr := miniredis.RunT(t)

		c, err := NewFromURL("redis://"+mr.Addr(), time.Second)
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })

		assert.NoError(t, c.Ping(context.Background()))
	})
}
