package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/service/mocks"
	"github.com/turtacn/credcore/internal/infrastructure/ratelimit"
	"github.com/turtacn/credcore/pkg/logger"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T) (*ratelimit.RedisRateLimiter, *miniredis.Miniredis, *mocks.Clock) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	clock := mocks.NewClock(epoch)
	rl, err := ratelimit.NewRedisRateLimiter(client, &config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             3,
		KeyPrefix:         "test:rl:",
	}, clock, logger.NewNoopLogger())
	require.NoError(t, err)
	return rl, s, clock
}

func TestRedisRateLimiter_Allow(t *testing.T) {
	rl, s, clock := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := rl.Allow(ctx, "tenant:42|10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, int64(2-i), d.Remaining)
		assert.Equal(t, int64(3), d.Limit)
	}
	assert.True(t, s.Exists("test:rl:tenant:42|10.0.0.1"))

	d, err := rl.Allow(ctx, "tenant:42|10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	other, err := rl.Allow(ctx, "tenant:43|10.0.0.1")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "buckets are per key")

	clock.Advance(time.Second)
	d, err = rl.Allow(ctx, "tenant:42|10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisRateLimiter_Reset(t *testing.T) {
	rl, s, _ := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := rl.Allow(ctx, "k")
		require.NoError(t, err)
	}
	require.NoError(t, rl.Reset(ctx, "k"))
	assert.False(t, s.Exists("test:rl:k"))

	d, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisRateLimiter_FallsBackWhenRedisIsDown(t *testing.T) {
	rl, s, _ := newLimiter(t)
	ctx := context.Background()
	s.Close()

	for i := 0; i < 3; i++ {
		d, err := rl.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "the local bucket still enforces the limit")
}

func TestNewRedisRateLimiter_Validation(t *testing.T) {
	_, err := ratelimit.NewRedisRateLimiter(nil, &config.RateLimitConfig{RequestsPerMinute: 1, Burst: 1}, nil, logger.NewNoopLogger())
	assert.Error(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	_, err = ratelimit.NewRedisRateLimiter(client, &config.RateLimitConfig{Burst: 1}, nil, logger.NewNoopLogger())
	assert.Error(t, err)
}
