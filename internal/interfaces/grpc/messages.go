package grpc

import (
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/errors"
)

// OwnerScoped is implemented by requests addressed to one owner.
type OwnerScoped interface {
	OwnerRef() (models.OwnerRef, error)
}

// OwnerMessage names the owner a request is addressed to.
type OwnerMessage struct {
	OwnerKind string `json:"owner_kind"`
	OwnerID   string `json:"owner_id"`
}

// OwnerRef parses the owner of the request.
func (m OwnerMessage) OwnerRef() (models.OwnerRef, error) {
	return models.NewOwnerRef(m.OwnerKind, m.OwnerID)
}

// VerifyAccessTokenRequest 访问令牌校验请求
type VerifyAccessTokenRequest struct {
	OwnerMessage
	Token string `json:"token"`
}

// Validate checks the request before it reaches the service.
func (r *VerifyAccessTokenRequest) Validate() error {
	if r.Token == "" {
		return errors.ErrInvalidArgument("token", "is required")
	}
	return nil
}

// VerifyAccessTokenResponse 访问令牌校验响应
type VerifyAccessTokenResponse struct {
	Claims *models.AccessClaims `json:"claims"`
}

// GetJWKSRequest 公钥集查询请求
type GetJWKSRequest struct {
	OwnerMessage
}

// GetJWKSResponse 公钥集查询响应
type GetJWKSResponse struct {
	JWKS *models.JWKS `json:"jwks"`
}

// RefreshSessionRequest 会话刷新请求
type RefreshSessionRequest struct {
	OwnerMessage
	RefreshToken string `json:"refresh_token"`
	IPAddress    string `json:"ip_address,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
}

// Validate checks the request before it reaches the service.
func (r *RefreshSessionRequest) Validate() error {
	if r.RefreshToken == "" {
		return errors.ErrInvalidArgument("refresh_token", "is required")
	}
	return nil
}

// RefreshSessionResponse carries the rotated credentials.
type RefreshSessionResponse struct {
	Credentials *models.IssuedCredentials `json:"credentials"`
}

// RevokeSessionRequest 会话吊销请求
type RevokeSessionRequest struct {
	OwnerMessage
	RefreshToken string `json:"refresh_token"`
}

// Validate checks the request before it reaches the service.
func (r *RevokeSessionRequest) Validate() error {
	if r.RefreshToken == "" {
		return errors.ErrInvalidArgument("refresh_token", "is required")
	}
	return nil
}

// RevokeSessionResponse is empty on success.
type RevokeSessionResponse struct{}
