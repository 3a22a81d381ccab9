package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/credcore/internal/application/dto"
	"github.com/turtacn/credcore/pkg/errors"
)

// RequireAdminToken guards operator routes with a static bearer token.
// An empty token disables the check.
func RequireAdminToken(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.Next()
			return
		}
		presented := []byte(extractBearer(c.GetHeader("Authorization")))
		if subtle.ConstantTimeCompare(presented, expected) != 1 {
			dto.SendError(c, errors.ErrSignatureInvalid("admin token mismatch"))
			return
		}
		c.Next()
	}
}
