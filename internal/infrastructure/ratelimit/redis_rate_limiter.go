package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// Lua script for atomic token bucket operations.
// Returns {allowed, remaining, capacity, retry_ms}.
const tokenBucketLuaScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local requested = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or now

-- rate is per second, elapsed in ms
local elapsed = math.max(0, now - last_refill)
tokens = math.min(tokens + elapsed * rate / 1000, capacity)

local allowed = 0
local retry_ms = 0
if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
else
    retry_ms = math.ceil((requested - tokens) / rate * 1000)
end

local full_ms = math.ceil((capacity - tokens) / rate * 1000)

redis.call('HMSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('PEXPIRE', key, full_ms + 60000)

return {allowed, math.floor(tokens), math.floor(capacity), retry_ms}
`

// RedisRateLimiter implements distributed rate limiting using Redis. When a
// Redis call fails it degrades to a per-instance LocalRateLimiter.
type RedisRateLimiter struct {
	client   redis.UniversalClient
	script   *redis.Script
	capacity int64
	rate     float64
	prefix   string
	fallback *LocalRateLimiter
	clock    service.Clock
	logger   logger.Logger
}

var _ service.RateLimiter = (*RedisRateLimiter)(nil)

// NewRedisRateLimiter creates a Redis-based rate limiter.
func NewRedisRateLimiter(
	client redis.UniversalClient,
	cfg *config.RateLimitConfig,
	clock service.Clock,
	log logger.Logger,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, errors.ErrInvalidArgument("redis_client", "is required")
	}
	if cfg.RequestsPerMinute <= 0 || cfg.Burst <= 0 {
		return nil, errors.ErrInvalidArgument("rate_limit", "requests_per_minute and burst must be positive")
	}
	if clock == nil {
		clock = service.SystemClock{}
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = constants.RateLimitKeyPrefix
	}

	rl := &RedisRateLimiter{
		client:   client,
		script:   redis.NewScript(tokenBucketLuaScript),
		capacity: int64(cfg.Burst),
		rate:     float64(cfg.RequestsPerMinute) / 60.0,
		prefix:   prefix,
		fallback: NewLocalRateLimiter(cfg.Burst, cfg.RequestsPerMinute, clock),
		clock:    clock,
		logger:   log.WithComponent("RedisRateLimiter"),
	}

	rl.logger.Info(context.Background(), "Redis rate limiter initialized",
		logger.Int("burst", cfg.Burst),
		logger.Int("requests_per_minute", cfg.RequestsPerMinute),
	)
	return rl, nil
}

// Allow consumes one token from the shared bucket of key.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (*service.RateLimitDecision, error) {
	res, err := rl.script.Run(ctx, rl.client, []string{rl.prefix + key},
		rl.capacity, rl.rate, 1, rl.clock.Now().UnixMilli()).Int64Slice()
	if err == nil && len(res) < 4 {
		err = fmt.Errorf("unexpected token bucket reply of length %d", len(res))
	}
	if err != nil {
		rl.logger.Warn(ctx, "Rate limit check fell back to local bucket",
			logger.String("key", key), logger.Err(err))
		return rl.fallback.Allow(ctx, key)
	}

	return &service.RateLimitDecision{
		Allowed:    res[0] == 1,
		Remaining:  res[1],
		Limit:      res[2],
		RetryAfter: time.Duration(res[3]) * time.Millisecond,
	}, nil
}

// Reset drops the shared and local buckets of key.
func (rl *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	rl.fallback.buckets.Delete(key)
	if err := rl.client.Del(ctx, rl.prefix+key).Err(); err != nil {
		return errors.ErrStoreUnavailable("ratelimit.reset", err)
	}
	return nil
}
