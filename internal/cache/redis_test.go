package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
)

// setupMiniRedis creates a miniredis server for testing.
func setupMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr
}

func TestNewRedisCache(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)

	c, err := New(&Config{Type: TypeRedis, Redis: &RedisConfig{Address: mr.Addr()}}, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	rc, ok := c.(*redisCache)
	require.True(t, ok)
	assert.Equal(t, DefaultKeyPrefix, rc.keyPrefix)
	assert.Equal(t, DefaultTTL, rc.ttl)
}

func TestNewRedisCache_ConnectionFailed(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(&Config{Type: TypeRedis, Redis: &RedisConfig{Address: addr}}, observability.NopLogger())
	assert.Error(t, err)
}

func TestRedisCache_GetSetDelete(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	c, err := newRedisCache(&Config{
		Type:  TypeRedis,
		TTL:   30 * time.Second,
		Redis: &RedisConfig{Address: mr.Addr(), KeyPrefix: "test:"},
	}, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("1")))
	assert.True(t, mr.Exists("test:k"))
	assert.Equal(t, 30*time.Second, mr.TTL("test:k"))

	value, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)

	require.NoError(t, c.Delete(ctx, "k"))
	assert.False(t, mr.Exists("test:k"))
}

func TestRedisCache_Expiry(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	c, err := newRedisCache(&Config{
		Type:  TypeRedis,
		TTL:   time.Minute,
		Redis: &RedisConfig{Address: mr.Addr()},
	}, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	d := NewDecisions(c)
	ctx := context.Background()

	require.NoError(t, d.Set(ctx, "k", true))
	allowed, found, err := d.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, allowed)

	mr.FastForward(2 * time.Minute)

	_, found, err = d.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_ServerError(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	c, err := newRedisCache(&Config{Type: TypeRedis, Redis: &RedisConfig{Address: mr.Addr()}}, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	mr.SetError("LOADING")

	_, err = c.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)

	assert.Error(t, c.Set(context.Background(), "k", []byte("1")))
}

func TestIsRetryableRedisError(t *testing.T) {
	t.Parallel()

	assert.False(t, isRetryableRedisError(nil))
	assert.False(t, isRetryableRedisError(context.Canceled))
	assert.True(t, isRetryableRedisError(assert.AnError))
}
