// Package dto provides the request and response bodies of the HTTP adapter.
package dto

import (
	"time"

	"github.com/turtacn/credcore/internal/domain/models"
)

// OpenSessionRequest 会话打开请求 DTO
type OpenSessionRequest struct {
	SubjectID string                 `json:"subject_id" binding:"required,max=256"`
	Audience  string                 `json:"audience" binding:"omitempty,max=256"`
	Claims    map[string]interface{} `json:"claims"`
}

// RefreshSessionRequest 会话刷新请求 DTO
type RefreshSessionRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RevokeSessionRequest 会话吊销请求 DTO
type RevokeSessionRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenPairResponse 令牌对响应 DTO（包含 Access Token 和 Refresh Token）
type TokenPairResponse struct {
	AccessToken      string             `json:"access_token"`
	RefreshToken     string             `json:"refresh_token"`
	TokenType        string             `json:"token_type"`
	ExpiresIn        int64              `json:"expires_in"`
	RefreshExpiresAt time.Time          `json:"refresh_expires_at"`
	Session          models.SessionInfo `json:"session"`
}

// NewTokenPairResponse builds the response body from issued credentials.
func NewTokenPairResponse(creds *models.IssuedCredentials) *TokenPairResponse {
	return &TokenPairResponse{
		AccessToken:      creds.AccessToken,
		RefreshToken:     creds.RefreshToken,
		TokenType:        creds.TokenType,
		ExpiresIn:        creds.ExpiresIn,
		RefreshExpiresAt: creds.RefreshExpiresAt,
		Session:          creds.Session,
	}
}

// SessionListResponse 会话列表响应 DTO
type SessionListResponse struct {
	SubjectID string               `json:"subject_id"`
	Sessions  []models.SessionInfo `json:"sessions"`
	Total     int                  `json:"total"`
}

// RevokeAllResponse 批量吊销响应 DTO
type RevokeAllResponse struct {
	SubjectID string `json:"subject_id"`
	Revoked   int64  `json:"revoked"`
}
