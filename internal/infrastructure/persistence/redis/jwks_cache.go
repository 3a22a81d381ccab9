package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/logger"
)

// JWKSCache is the shared JWKS cache backed by Redis.
type JWKSCache struct {
	client redis.UniversalClient
	prefix string
	logger logger.Logger
}

var _ service.JWKSCache = (*JWKSCache)(nil)

// NewJWKSCache creates a Redis JWKS cache.
func NewJWKSCache(client redis.UniversalClient, log logger.Logger) *JWKSCache {
	return &JWKSCache{
		client: client,
		prefix: constants.JWKSCacheKeyPrefix,
		logger: log.WithComponent("RedisJWKSCache"),
	}
}

func (c *JWKSCache) key(owner models.OwnerRef) string {
	return c.prefix + owner.String()
}

// Get returns the cached document of owner.
func (c *JWKSCache) Get(ctx context.Context, owner models.OwnerRef) (*models.JWKS, bool, error) {
	raw, err := c.client.Get(ctx, c.key(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get jwks: %w", err)
	}

	var jwks models.JWKS
	if err := json.Unmarshal(raw, &jwks); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		c.logger.Warn(ctx, "Discarding undecodable JWKS cache entry",
			logger.String("owner", owner.String()), logger.Err(err))
		_ = c.client.Del(ctx, c.key(owner)).Err()
		return nil, false, nil
	}
	return &jwks, true, nil
}

// Set stores the document of owner for ttl. A non-positive ttl is a no-op.
func (c *JWKSCache) Set(ctx context.Context, owner models.OwnerRef, jwks *models.JWKS, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(jwks)
	if err != nil {
		return fmt.Errorf("marshal jwks: %w", err)
	}
	if err := c.client.Set(ctx, c.key(owner), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set jwks: %w", err)
	}
	return nil
}

// Invalidate drops the document of owner.
func (c *JWKSCache) Invalidate(ctx context.Context, owner models.OwnerRef) error {
	if err := c.client.Del(ctx, c.key(owner)).Err(); err != nil {
		return fmt.Errorf("redis del jwks: %w", err)
	}
	return nil
}
