package models

import (
	"time"

	"github.com/turtacn/credcore/pkg/constants"
)

// Session is the durable record behind one refresh token. It moves from
// active to revoked exactly once and is rotated on every refresh.
// Session 是一个刷新令牌背后的持久记录。它只会从 active 转为 revoked 一次，
// 并在每次刷新时轮换。
type Session struct {
	// ID is the session identifier carried as sid in access tokens.
	// ID 是会话标识符，在访问令牌中作为 sid 携带。
	ID        string              `gorm:"primaryKey;column:id"`
	OwnerKind constants.OwnerKind `gorm:"column:owner_kind"`
	OwnerID   string              `gorm:"column:owner_id"`
	SubjectID string              `gorm:"column:subject_id"`
	// TokenFingerprint is the SHA-256 hex digest of the raw refresh token.
	// TokenFingerprint 是原始刷新令牌的 SHA-256 十六进制摘要。
	TokenFingerprint string                  `gorm:"column:token_fingerprint"`
	Status           constants.SessionStatus `gorm:"column:status"`
	// Audience and Claims are replayed into every access token minted for the session.
	// Audience 和 Claims 会重放到为该会话签发的每个访问令牌中。
	Audience  string                 `gorm:"column:audience"`
	Claims    map[string]interface{} `gorm:"column:claims;serializer:json"`
	ExpiresAt time.Time              `gorm:"column:expires_at"`
	CreatedAt time.Time              `gorm:"column:created_at"`
	RevokedAt *time.Time             `gorm:"column:revoked_at"`
	// ReplacedBy links a rotated session to its successor.
	// ReplacedBy 将已轮换的会话链接到其后继会话。
	ReplacedBy *string `gorm:"column:replaced_by"`
	IPAddress  string  `gorm:"column:ip_address"`
	UserAgent  string  `gorm:"column:user_agent"`
}

// TableName overrides the gorm table name.
func (Session) TableName() string { return "sessions" }

// Owner returns the owner reference of the session.
func (s *Session) Owner() OwnerRef {
	return OwnerRef{Kind: s.OwnerKind, ID: s.OwnerID}
}

// IsExpired reports whether the session is past expires_at at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsActive reports whether the session can still be refreshed at now.
func (s *Session) IsActive(now time.Time) bool {
	return s.Status == constants.SessionStatusActive && !s.IsExpired(now)
}

// Info returns the listing view of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:        s.ID,
		Owner:     s.Owner(),
		SubjectID: s.SubjectID,
		Status:    s.Status,
		Audience:  s.Audience,
		ExpiresAt: s.ExpiresAt,
		CreatedAt: s.CreatedAt,
		RevokedAt: s.RevokedAt,
		Meta:      ClientMeta{IPAddress: s.IPAddress, UserAgent: s.UserAgent},
	}
}

// SessionInfo is the session metadata exposed to callers. Fingerprints are never included.
// SessionInfo 是暴露给调用方的会话元数据，从不包含指纹。
type SessionInfo struct {
	ID        string                  `json:"id"`
	Owner     OwnerRef                `json:"owner"`
	SubjectID string                  `json:"subject_id"`
	Status    constants.SessionStatus `json:"status"`
	Audience  string                  `json:"audience"`
	ExpiresAt time.Time               `json:"expires_at"`
	CreatedAt time.Time               `json:"created_at"`
	RevokedAt *time.Time              `json:"revoked_at,omitempty"`
	Meta      ClientMeta              `json:"meta"`
}

// ClientMeta describes the client that opened or refreshed a session.
type ClientMeta struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// OpenSessionRequest carries the inputs of a new session.
// OpenSessionRequest 携带新会话的输入。
type OpenSessionRequest struct {
	Owner     OwnerRef
	SubjectID string
	// Audience defaults to the owner id when empty.
	// Audience 为空时默认为所有者 ID。
	Audience string
	Claims   map[string]interface{}
	Meta     ClientMeta
}

// IssuedCredentials is the result of opening or refreshing a session.
// The raw refresh token is returned exactly once and never persisted.
// IssuedCredentials 是打开或刷新会话的结果。原始刷新令牌只返回一次且从不持久化。
type IssuedCredentials struct {
	AccessToken      string        `json:"access_token"`
	RefreshToken     string        `json:"refresh_token"`
	TokenType        string        `json:"token_type"`
	ExpiresIn        int64         `json:"expires_in"`
	RefreshExpiresAt time.Time     `json:"refresh_expires_at"`
	Session          SessionInfo   `json:"session"`
	Claims           *AccessClaims `json:"-"`
}
