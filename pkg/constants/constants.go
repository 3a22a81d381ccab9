// Package constants defines system-wide constants for the credential core.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Owner Constants
// ================================================================================

// OwnerKind identifies which kind of identity owns a key pair or a session.
type OwnerKind string

const (
	// OwnerKindTenant is a top-level tenant
	OwnerKindTenant OwnerKind = "tenant"

	// OwnerKindApplication is a sub-tenant application beneath a tenant
	OwnerKindApplication OwnerKind = "application"
)

// ================================================================================
// Key Status Constants
// ================================================================================

// KeyStatus represents the lifecycle status of a signing key pair
type KeyStatus string

const (
	// KeyStatusActive marks the single key an owner signs with
	KeyStatusActive KeyStatus = "active"

	// KeyStatusRetiring marks a rotated-out key that is still accepted for
	// verification until its verify_until instant (grace policy only)
	KeyStatusRetiring KeyStatus = "retiring"

	// KeyStatusRevoked marks a key that is neither used for signing nor verification
	KeyStatusRevoked KeyStatus = "revoked"
)

// ================================================================================
// Session Status Constants
// ================================================================================

// SessionStatus represents the lifecycle status of a refresh-token session
type SessionStatus string

const (
	// SessionStatusActive indicates the refresh token may be exchanged once
	SessionStatusActive SessionStatus = "active"

	// SessionStatusRevoked is terminal
	SessionStatusRevoked SessionStatus = "revoked"
)

// ================================================================================
// JWT Algorithm Constants
// ================================================================================

// JWTAlgorithm represents the signing algorithm for JWT tokens
type JWTAlgorithm string

const (
	// AlgorithmRS256 represents RSA signature with SHA-256 (default)
	AlgorithmRS256 JWTAlgorithm = "RS256"

	// AlgorithmES256 represents ECDSA P-256 signature with SHA-256
	AlgorithmES256 JWTAlgorithm = "ES256"
)

// DefaultJWTAlgorithm is the default algorithm used for token signing
const DefaultJWTAlgorithm = AlgorithmRS256

// DefaultRSAKeyBits is the modulus size for generated RSA keys
const DefaultRSAKeyBits = 2048

// ================================================================================
// Envelope Cipher Constants
// ================================================================================

// CipherID identifies the AEAD construction used to seal a private key
type CipherID string

const (
	// CipherAES256GCM is AES-256 in Galois/Counter Mode (default)
	CipherAES256GCM CipherID = "aes-256-gcm"

	// CipherXChaCha20Poly1305 is XChaCha20-Poly1305 with a 24-byte nonce
	CipherXChaCha20Poly1305 CipherID = "xchacha20-poly1305"
)

// DevelopmentKeyEncryptionSecret is the fixed secret used outside production
// when no key-encryption secret is configured.
const DevelopmentKeyEncryptionSecret = "credcore-development-key-encryption-secret-do-not-use"

// EnvironmentProduction is the app.environment value that forbids the development secret
const EnvironmentProduction = "production"

// ================================================================================
// Token Lifetime Constants
// ================================================================================

const (
	// AccessTokenDefaultTTL is the default lifetime for access tokens (15 minutes)
	AccessTokenDefaultTTL = 15 * time.Minute

	// AccessTokenMaxTTL is the maximum allowed lifetime for access tokens (24 hours)
	AccessTokenMaxTTL = 24 * time.Hour

	// RefreshTokenDefaultTTL is the default lifetime for refresh tokens (30 days)
	RefreshTokenDefaultTTL = 30 * 24 * time.Hour

	// RefreshTokenBytes is the entropy of a raw refresh token
	RefreshTokenBytes = 32

	// DefaultClockLeeway tolerates small clock skew on iat/nbf/exp checks
	DefaultClockLeeway = 0 * time.Second
)

// ================================================================================
// Cache Constants
// ================================================================================

const (
	// JWKSCacheTTL is the default lifetime of a cached JWKS document
	JWKSCacheTTL = 5 * time.Minute

	// JWKSLocalCacheTTL is the in-process (L1) lifetime of a JWKS document
	JWKSLocalCacheTTL = 30 * time.Second

	// JWKSCacheKeyPrefix prefixes Redis keys holding JWKS documents
	JWKSCacheKeyPrefix = "credcore:jwks:"
)

// ================================================================================
// Rate Limit Constants
// ================================================================================

const (
	// DefaultRateLimitPerMinute is the refill rate of a session endpoint bucket
	DefaultRateLimitPerMinute = 60

	// DefaultRateLimitBurst is the capacity of a session endpoint bucket
	DefaultRateLimitBurst = 20

	// RateLimitKeyPrefix prefixes Redis keys holding token buckets
	RateLimitKeyPrefix = "credcore:ratelimit:"

	// RateLimitIdleTTL evicts local buckets that have not been touched for this long
	RateLimitIdleTTL = 10 * time.Minute
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is the type for request-scoped context values
type ContextKey string

const (
	// ContextKeyRequestID carries the request id
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyOwner carries the textual owner reference
	ContextKeyOwner ContextKey = "owner"

	// ContextKeyClaims carries verified access claims
	ContextKeyClaims ContextKey = "access_claims"
)

// ================================================================================
// Audit Event Constants
// ================================================================================

// AuditEventType identifies an audit trail event
type AuditEventType string

const (
	AuditEventKeyProvisioned     AuditEventType = "key.provisioned"
	AuditEventKeyRotated         AuditEventType = "key.rotated"
	AuditEventSessionOpened      AuditEventType = "session.opened"
	AuditEventSessionRefreshed   AuditEventType = "session.refreshed"
	AuditEventSessionRevoked     AuditEventType = "session.revoked"
	AuditEventRefreshTokenReused AuditEventType = "session.refresh_token_reused"
	AuditEventSweepCompleted     AuditEventType = "maintenance.sweep_completed"
)

const (
	AuditResultSuccess = "success"
	AuditResultFailure = "failure"
)

// TokenTypeBearer is the token_type returned alongside issued access tokens
const TokenTypeBearer = "Bearer"

// ================================================================================
// Log Level Constants
// ================================================================================

// LogLevel is the minimum severity that is emitted
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ================================================================================
// Error Code Constants
// ================================================================================

// ErrorCode is the external error code sent to clients
type ErrorCode string

const (
	ErrCodeInvalidRequest     ErrorCode = "invalid_request"
	ErrCodeInvalidToken       ErrorCode = "invalid_token"
	ErrCodeConflict           ErrorCode = "conflict"
	ErrCodeNotFound           ErrorCode = "not_found"
	ErrCodeServerError        ErrorCode = "server_error"
	ErrCodeServiceUnavailable ErrorCode = "temporarily_unavailable"
	ErrCodeRateLimited        ErrorCode = "rate_limited"
)
