// Package handlers implements the HTTP endpoints of the credential core.
package handlers

import (
	"context"

	"github.com/turtacn/credcore/internal/application"
	"github.com/turtacn/credcore/internal/domain/models"
)

// CredentialService is the facade driven by the HTTP handlers.
// CredentialService 是 HTTP 处理器调用的门面。
type CredentialService interface {
	ProvisionKey(ctx context.Context, owner models.OwnerRef) (*models.KeyInfo, error)
	RotateKey(ctx context.Context, owner models.OwnerRef) (*models.KeyInfo, error)
	ListKeys(ctx context.Context, owner models.OwnerRef) ([]*models.KeyInfo, error)
	PublicJWKS(ctx context.Context, owner models.OwnerRef) (*models.JWKS, error)
	IssueSession(ctx context.Context, req models.OpenSessionRequest) (*models.IssuedCredentials, error)
	RefreshSession(ctx context.Context, owner models.OwnerRef, refreshToken string, meta models.ClientMeta) (*models.IssuedCredentials, error)
	RevokeSession(ctx context.Context, owner models.OwnerRef, sessionID string) error
	RevokeSubjectSession(ctx context.Context, owner models.OwnerRef, subjectID, sessionID string) error
	RevokeSessionByToken(ctx context.Context, owner models.OwnerRef, refreshToken string) error
	RevokeAllSessions(ctx context.Context, owner models.OwnerRef, subjectID string) (int64, error)
	ActiveSessions(ctx context.Context, owner models.OwnerRef, subjectID string) ([]models.SessionInfo, error)
	VerifyAccessToken(ctx context.Context, owner models.OwnerRef, token string) (*models.AccessClaims, error)
}

var _ CredentialService = (*application.CredentialService)(nil)
