package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-assessment/internal/clock"
)

type stats struct {
	Total   int     `json:"total"`
	Average float64 `json:"average"`
}

type store interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

func exerciseRoundTrip(t *testing.T, c store) {
	t.Helper()
	ctx := context.Background()

	var got stats
	found, err := c.Get(ctx, "stats:t1", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "stats:t1", stats{Total: 3, Average: 71.5}, time.Minute))
	found, err = c.Get(ctx, "stats:t1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, stats{Total: 3, Average: 71.5}, got)

	require.NoError(t, c.Delete(ctx, "stats:t1", "stats:unknown"))
	found, err = c.Get(ctx, "stats:t1", &got)
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, c.Delete(ctx))
}

func TestRedisRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseRoundTrip(t, NewRedis(client, "assess:"))
}

func TestRedisPrefixAndExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client, err := Dial(ctx, "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedis(client, "assess:")
	require.NoError(t, c.Set(ctx, "stats:t1", stats{Total: 1}, 30*time.Second))
	assert.True(t, mr.Exists("assess:stats:t1"))

	mr.FastForward(31 * time.Second)
	var got stats
	found, err := c.Get(ctx, "stats:t1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDialFailsOnBadURL(t *testing.T) {
	_, err := Dial(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestMemoryRoundTrip(t *testing.T) {
	exerciseRoundTrip(t, NewMemory(nil))
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewMemory(clk)

	require.NoError(t, c.Set(ctx, "k", stats{Total: 1}, 10*time.Second))
	require.NoError(t, c.Set(ctx, "forever", stats{Total: 2}, 0))

	clk.Advance(9 * time.Second)
	var got stats
	found, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)

	clk.Advance(time.Second)
	found, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)

	clk.Advance(time.Hour)
	found, err = c.Get(ctx, "forever", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, got.Total)
}
