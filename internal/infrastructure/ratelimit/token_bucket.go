// Package ratelimit provides token bucket rate limiting backed by Redis, with an
// in-process fallback used when Redis cannot be reached.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/pkg/constants"
)

// TokenBucket implements the token bucket algorithm for a single key.
// It is safe for concurrent use.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64   // Maximum number of tokens
	tokens     float64   // Current number of tokens
	rate       float64   // Tokens added per second
	lastRefill time.Time // Last time tokens were refilled
	clock      service.Clock
}

// NewTokenBucket creates a full bucket with the given capacity and refill rate
// in tokens per second.
func NewTokenBucket(capacity, rate float64, clock service.Clock) *TokenBucket {
	if capacity <= 0 {
		capacity = constants.DefaultRateLimitBurst
	}
	if rate <= 0 {
		rate = float64(constants.DefaultRateLimitPerMinute) / 60.0
	}
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		rate:       rate,
		lastRefill: clock.Now(),
		clock:      clock,
	}
}

// Take consumes one token. When the bucket is empty it reports how long the
// caller has to wait for the next token.
func (tb *TokenBucket) Take() (allowed bool, remaining int64, retryAfter time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true, int64(math.Floor(tb.tokens)), 0
	}

	wait := (1 - tb.tokens) / tb.rate
	return false, 0, time.Duration(math.Ceil(wait*1000)) * time.Millisecond
}

// Available returns the current number of tokens.
func (tb *TokenBucket) Available() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// refill adds tokens for the time elapsed since the last refill.
// Must be called with lock held.
func (tb *TokenBucket) refill() {
	now := tb.clock.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens = math.Min(tb.tokens+elapsed*tb.rate, tb.capacity)
	tb.lastRefill = now
}

// LocalRateLimiter keeps one bucket per key in process memory. Buckets idle for
// longer than constants.RateLimitIdleTTL are evicted.
type LocalRateLimiter struct {
	mu       sync.Mutex
	buckets  *gocache.Cache
	capacity float64
	rate     float64
	clock    service.Clock
}

var _ service.RateLimiter = (*LocalRateLimiter)(nil)

// NewLocalRateLimiter creates an in-process limiter allowing burst requests at
// once and perMinute requests per minute on average.
func NewLocalRateLimiter(burst, perMinute int, clock service.Clock) *LocalRateLimiter {
	if burst <= 0 {
		burst = constants.DefaultRateLimitBurst
	}
	if perMinute <= 0 {
		perMinute = constants.DefaultRateLimitPerMinute
	}
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &LocalRateLimiter{
		buckets:  gocache.New(constants.RateLimitIdleTTL, constants.RateLimitIdleTTL),
		capacity: float64(burst),
		rate:     float64(perMinute) / 60.0,
		clock:    clock,
	}
}

// Allow consumes one token from the bucket of key.
func (l *LocalRateLimiter) Allow(_ context.Context, key string) (*service.RateLimitDecision, error) {
	allowed, remaining, retryAfter := l.bucket(key).Take()
	return &service.RateLimitDecision{
		Allowed:    allowed,
		Limit:      int64(l.capacity),
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}, nil
}

// Size returns the number of live buckets.
func (l *LocalRateLimiter) Size() int {
	return l.buckets.ItemCount()
}

func (l *LocalRateLimiter) bucket(key string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	var b *TokenBucket
	if v, ok := l.buckets.Get(key); ok {
		b = v.(*TokenBucket)
	} else {
		b = NewTokenBucket(l.capacity, l.rate, l.clock)
	}
	// Re-setting slides the idle expiry.
	l.buckets.SetDefault(key, b)
	return b
}
