package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/credcore/internal/application/dto"
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/interfaces/http/middleware"
	"github.com/turtacn/credcore/pkg/errors"
)

// SessionHandler handles HTTP requests for refresh-token sessions.
type SessionHandler struct {
	creds CredentialService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(creds CredentialService) *SessionHandler {
	return &SessionHandler{creds: creds}
}

func clientMeta(c *gin.Context) models.ClientMeta {
	return models.ClientMeta{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// Open handles POST /v1/owners/:kind/:id/sessions.
func (h *SessionHandler) Open(c *gin.Context) {
	var req dto.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.SendError(c, errors.ErrInvalidArgument("body", err.Error()))
		return
	}

	creds, err := h.creds.IssueSession(c.Request.Context(), models.OpenSessionRequest{
		Owner:     middleware.Owner(c),
		SubjectID: req.SubjectID,
		Audience:  req.Audience,
		Claims:    req.Claims,
		Meta:      clientMeta(c),
	})
	if err != nil {
		dto.SendError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	dto.SendSuccess(c, http.StatusCreated, dto.NewTokenPairResponse(creds))
}

// Refresh handles POST /v1/owners/:kind/:id/sessions/refresh.
func (h *SessionHandler) Refresh(c *gin.Context) {
	var req dto.RefreshSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.SendError(c, errors.ErrInvalidArgument("body", err.Error()))
		return
	}

	creds, err := h.creds.RefreshSession(c.Request.Context(), middleware.Owner(c), req.RefreshToken, clientMeta(c))
	if err != nil {
		dto.SendError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	dto.SendSuccess(c, http.StatusOK, dto.NewTokenPairResponse(creds))
}

// Revoke handles POST /v1/owners/:kind/:id/sessions/revoke. Presenting the
// refresh token proves possession; revoking twice succeeds.
func (h *SessionHandler) Revoke(c *gin.Context) {
	var req dto.RevokeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.SendError(c, errors.ErrInvalidArgument("body", err.Error()))
		return
	}

	if err := h.creds.RevokeSessionByToken(c.Request.Context(), middleware.Owner(c), req.RefreshToken); err != nil {
		dto.SendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMine handles GET /v1/owners/:kind/:id/sessions/me.
func (h *SessionHandler) ListMine(c *gin.Context) {
	subject := middleware.Claims(c).Subject
	sessions, err := h.creds.ActiveSessions(c.Request.Context(), middleware.Owner(c), subject)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	if sessions == nil {
		sessions = []models.SessionInfo{}
	}
	dto.SendSuccess(c, http.StatusOK, &dto.SessionListResponse{
		SubjectID: subject,
		Sessions:  sessions,
		Total:     len(sessions),
	})
}

// RevokeMine handles DELETE /v1/owners/:kind/:id/sessions/me and signs the
// caller out everywhere.
func (h *SessionHandler) RevokeMine(c *gin.Context) {
	subject := middleware.Claims(c).Subject
	n, err := h.creds.RevokeAllSessions(c.Request.Context(), middleware.Owner(c), subject)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, &dto.RevokeAllResponse{SubjectID: subject, Revoked: n})
}

// RevokeOne handles DELETE /v1/owners/:kind/:id/sessions/me/:sid. Only
// sessions of the caller can be named; naming an already revoked one succeeds.
func (h *SessionHandler) RevokeOne(c *gin.Context) {
	subject := middleware.Claims(c).Subject
	if err := h.creds.RevokeSubjectSession(c.Request.Context(), middleware.Owner(c), subject, c.Param("sid")); err != nil {
		dto.SendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
