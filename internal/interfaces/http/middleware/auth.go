package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/credcore/internal/application/dto"
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// TokenVerifier checks an access token against the keys of an owner.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, owner models.OwnerRef, token string) (*models.AccessClaims, error)
}

// extractBearer extracts the token from the Authorization header.
func extractBearer(authHeader string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireBearer protects owner-scoped routes with an access token issued by
// that owner. It must run after OwnerFromPath.
func RequireBearer(verifier TokenVerifier, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			dto.SendError(c, errors.ErrSignatureInvalid("missing bearer token"))
			return
		}

		claims, err := verifier.VerifyAccessToken(c.Request.Context(), Owner(c), token)
		if err != nil {
			log.Debug(c.Request.Context(), "Bearer token rejected",
				logger.String("kind", string(errors.KindOf(err))))
			dto.SendError(c, err)
			return
		}

		c.Set(string(constants.ContextKeyClaims), claims)
		c.Next()
	}
}

// Claims returns the access claims stored by RequireBearer.
func Claims(c *gin.Context) *models.AccessClaims {
	if v, ok := c.Get(string(constants.ContextKeyClaims)); ok {
		if claims, ok := v.(*models.AccessClaims); ok {
			return claims
		}
	}
	return nil
}
