package middleware

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/credcore/internal/application/dto"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// RateLimitMiddleware throttles requests per owner and client address.
// A limiter failure lets the request through.
func RateLimitMiddleware(limiter service.RateLimiter, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := Owner(c).String() + "|" + c.ClientIP()

		decision, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.Error(c.Request.Context(), "Rate limiter failed", err, logger.String("key", key))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if !decision.Allowed {
			seconds := int64(math.Ceil(decision.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.FormatInt(seconds, 10))
			log.Warn(c.Request.Context(), "Rate limit exceeded", logger.String("key", key))
			dto.SendError(c, errors.ErrRateLimited(decision.RetryAfter))
			return
		}

		c.Next()
	}
}
