package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/credcore/internal/application/dto"
	"github.com/turtacn/credcore/internal/interfaces/http/middleware"
	"github.com/turtacn/credcore/pkg/logger"
)

// JWKSHandler publishes the verification keys of an owner.
type JWKSHandler struct {
	creds  CredentialService
	logger logger.Logger
}

// NewJWKSHandler creates a new JWKSHandler.
func NewJWKSHandler(creds CredentialService, log logger.Logger) *JWKSHandler {
	return &JWKSHandler{creds: creds, logger: log.WithComponent("JWKSHandler")}
}

// GetJWKS handles GET /v1/owners/:kind/:id/jwks.json.
// An owner without keys publishes an empty set.
func (h *JWKSHandler) GetJWKS(c *gin.Context) {
	owner := middleware.Owner(c)
	jwks, err := h.creds.PublicJWKS(c.Request.Context(), owner)
	if err != nil {
		h.logger.Error(c.Request.Context(), "Failed to load JWKS", err, logger.String("owner", owner.String()))
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, jwks)
}
