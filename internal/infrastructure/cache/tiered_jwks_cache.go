// Package cache provides the in-process JWKS cache and its tiering over a shared cache.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/logger"
)

const (
	cacheTypeLocal  = "jwks_l1"
	cacheTypeShared = "jwks_l2"
)

// TieredJWKSCache keeps JWKS documents in a short-lived local cache (L1) in
// front of an optional shared cache (L2). Shared cache failures degrade to a
// miss so that key lookups fall through to the store.
// An invalidation only reaches the L1 of the instance performing it; other
// instances converge within localTTL.
type TieredJWKSCache struct {
	local    *gocache.Cache
	localTTL time.Duration
	shared   service.JWKSCache
	metrics  service.Metrics
	logger   logger.Logger
}

var _ service.JWKSCache = (*TieredJWKSCache)(nil)

// NewTieredJWKSCache creates the tiered cache. shared may be nil.
func NewTieredJWKSCache(localTTL time.Duration, shared service.JWKSCache, metrics service.Metrics, log logger.Logger) *TieredJWKSCache {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	if localTTL <= 0 {
		localTTL = constants.JWKSLocalCacheTTL
	}
	return &TieredJWKSCache{
		local:    gocache.New(localTTL, 2*localTTL),
		localTTL: localTTL,
		shared:   shared,
		metrics:  metrics,
		logger:   log.WithComponent("TieredJWKSCache"),
	}
}

// Get looks in L1, then L2. An L2 hit is copied into L1.
func (c *TieredJWKSCache) Get(ctx context.Context, owner models.OwnerRef) (*models.JWKS, bool, error) {
	key := owner.String()
	if v, ok := c.local.Get(key); ok {
		c.metrics.RecordCacheAccess(cacheTypeLocal, true)
		return v.(*models.JWKS), true, nil
	}
	c.metrics.RecordCacheAccess(cacheTypeLocal, false)

	if c.shared == nil {
		return nil, false, nil
	}
	jwks, ok, err := c.shared.Get(ctx, owner)
	if err != nil {
		c.logger.Warn(ctx, "Shared JWKS cache unavailable, treating as miss",
			logger.String("owner", key), logger.Err(err))
		return nil, false, nil
	}
	c.metrics.RecordCacheAccess(cacheTypeShared, ok)
	if ok {
		c.local.Set(key, jwks, c.localTTL)
	}
	return jwks, ok, nil
}

// Set stores the document in both tiers. L1 never outlives ttl.
func (c *TieredJWKSCache) Set(ctx context.Context, owner models.OwnerRef, jwks *models.JWKS, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	localTTL := c.localTTL
	if ttl < localTTL {
		localTTL = ttl
	}
	c.local.Set(owner.String(), jwks, localTTL)

	if c.shared != nil {
		if err := c.shared.Set(ctx, owner, jwks, ttl); err != nil {
			c.logger.Warn(ctx, "Failed to write shared JWKS cache",
				logger.String("owner", owner.String()), logger.Err(err))
		}
	}
	return nil
}

// Invalidate drops the document from both tiers. The L2 error is returned so
// callers can log a possibly stale shared entry.
func (c *TieredJWKSCache) Invalidate(ctx context.Context, owner models.OwnerRef) error {
	c.local.Delete(owner.String())
	if c.shared != nil {
		return c.shared.Invalidate(ctx, owner)
	}
	return nil
}
