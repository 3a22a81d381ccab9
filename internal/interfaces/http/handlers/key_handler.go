package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/credcore/internal/application/dto"
	"github.com/turtacn/credcore/internal/interfaces/http/middleware"
)

// KeyHandler exposes key provisioning and rotation to operators.
type KeyHandler struct {
	creds CredentialService
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(creds CredentialService) *KeyHandler {
	return &KeyHandler{creds: creds}
}

// Provision handles POST /v1/owners/:kind/:id/keys.
func (h *KeyHandler) Provision(c *gin.Context) {
	info, err := h.creds.ProvisionKey(c.Request.Context(), middleware.Owner(c))
	if err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusCreated, info)
}

// Rotate handles POST /v1/owners/:kind/:id/keys/rotate.
func (h *KeyHandler) Rotate(c *gin.Context) {
	info, err := h.creds.RotateKey(c.Request.Context(), middleware.Owner(c))
	if err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, info)
}

// List handles GET /v1/owners/:kind/:id/keys.
func (h *KeyHandler) List(c *gin.Context) {
	owner := middleware.Owner(c)
	keys, err := h.creds.ListKeys(c.Request.Context(), owner)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, dto.NewKeyListResponse(owner, keys))
}
