package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLimiter(t *testing.T, max int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "test", max, window), mr
}

func TestAllow_UnderLimit(t *testing.T) {
	l, _ := setupLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := l.Allow(ctx, "client-a", 1)
		assert.True(t, d.Allowed, "request %d should be allowed", i+1)
	}
}

func TestAllow_SixthOfFiveDenied(t *testing.T) {
	l, _ := setupLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow(ctx, "client-a", 1).Allowed)
	}

	d := l.Allow(ctx, "client-a", 1)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0), "denial must carry a retry delay")
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)
}

func TestAllow_ClientsIndependent(t *testing.T) {
	l, _ := setupLimiter(t, 2, time.Minute)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "client-a", 1).Allowed)
	require.True(t, l.Allow(ctx, "client-a", 1).Allowed)
	require.False(t, l.Allow(ctx, "client-a", 1).Allowed)

	assert.True(t, l.Allow(ctx, "client-b", 1).Allowed)
}

func TestAllow_CostConsumesMultiple(t *testing.T) {
	l, _ := setupLimiter(t, 10, time.Minute)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "client-a", 8).Allowed)
	d := l.Allow(ctx, "client-a", 3)
	assert.False(t, d.Allowed)
}

func TestAllow_WindowRollsOver(t *testing.T) {
	l, _ := setupLimiter(t, 1, time.Minute)
	ctx := context.Background()

	base := time.Date(2025, 6, 2, 10, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return base }

	require.True(t, l.Allow(ctx, "client-a", 1).Allowed)
	require.False(t, l.Allow(ctx, "client-a", 1).Allowed)

	// Next minute window
	l.now = func() time.Time { return base.Add(time.Minute) }
	assert.True(t, l.Allow(ctx, "client-a", 1).Allowed)
}

func TestAllow_FallsBackToMemoryOnRedisOutage(t *testing.T) {
	l, mr := setupLimiter(t, 2, time.Minute)
	mr.Close()
	ctx := context.Background()

	// Still enforced, just per-instance
	assert.True(t, l.Allow(ctx, "client-a", 1).Allowed)
	assert.True(t, l.Allow(ctx, "client-a", 1).Allowed)

	d := l.Allow(ctx, "client-a", 1)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestAllow_NilRedisUsesMemory(t *testing.T) {
	l := New(nil, "test", 1, time.Minute)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "client-a", 1).Allowed)
	assert.False(t, l.Allow(ctx, "client-a", 1).Allowed)
}
