package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/turtacn/credcore/internal/application/dto"
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/constants"
)

// OwnerFromPath resolves the :kind and :id path parameters into an owner
// reference and stores it on the context.
func OwnerFromPath() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, err := models.NewOwnerRef(c.Param("kind"), c.Param("id"))
		if err != nil {
			dto.SendError(c, err)
			return
		}
		c.Set(string(constants.ContextKeyOwner), owner)
		c.Next()
	}
}

// Owner returns the owner stored by OwnerFromPath.
func Owner(c *gin.Context) models.OwnerRef {
	if v, ok := c.Get(string(constants.ContextKeyOwner)); ok {
		if owner, ok := v.(models.OwnerRef); ok {
			return owner
		}
	}
	return models.OwnerRef{}
}
