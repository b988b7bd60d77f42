package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := newRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestKeyIgnoresParamOrder(t *testing.T) {
	a := Key("search/", map[string]string{"q": "jazz", "limit": "50"})
	b := Key("search/", map[string]string{"limit": "50", "q": "jazz"})
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, keyPrefix))

	assert.NotEqual(t, a, Key("search/", map[string]string{"q": "rock", "limit": "50"}))
	assert.NotEqual(t, a, Key("tracks/tag/", map[string]string{"q": "jazz", "limit": "50"}))
	assert.Equal(t, Key("tags/", nil), Key("tags/", map[string]string{}))
}

func TestRedisSetGet(t *testing.T) {
	_, c := setupMiniRedis(t)
	ctx := context.Background()

	c.Set(ctx, "k", []byte(`{"results":[]}`), time.Minute)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, `{"results":[]}`, string(got))

	_, ok = c.Get(ctx, "missing")
	assert.False(t, ok)

	assert.Equal(t, Stats{Hits: 1, Misses: 1, Sets: 1}, c.Stats())
}

func TestRedisExpiry(t *testing.T) {
	mr, c := setupMiniRedis(t)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	mr.FastForward(61 * time.Second)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisDefaultTTL(t *testing.T) {
	mr, c := setupMiniRedis(t)
	c.Set(context.Background(), "k", []byte("v"), 0)
	assert.Equal(t, DefaultTTL, mr.TTL("k"))
}

func TestRedisDelete(t *testing.T) {
	_, c := setupMiniRedis(t)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	c.Delete(ctx, "k")
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisUnavailableIsMiss(t *testing.T) {
	mr, c := setupMiniRedis(t)
	mr.Close()

	ctx := context.Background()
	c.Set(ctx, "k", []byte("v"), time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Error(t, c.HealthCheck(ctx))
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewRedis(context.Background(), RedisConfig{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	assert.NoError(t, c.HealthCheck(context.Background()))
	require.NoError(t, c.Close())

	mr.Close()
	_, err = NewRedis(context.Background(), RedisConfig{Addr: mr.Addr()}, nil)
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	c.Set(context.Background(), "k", []byte("v"), time.Minute)
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.NoError(t, c.Close())
}
