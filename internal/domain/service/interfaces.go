package service

import (
	"context"
	"time"

	"github.com/turtacn/credcore/internal/domain/models"
)

//go:generate mockery --name EnvelopeCipher --output mocks --outpkg mocks
// EnvelopeCipher seals and opens private key material with authenticated encryption.
// EnvelopeCipher 使用认证加密来密封和打开私钥材料。
type EnvelopeCipher interface {
	// Seal encrypts plaintext under a fresh nonce, binding it to aad.
	// Seal 使用新的随机数加密明文，并将其绑定到 aad。
	Seal(plaintext, aad []byte) (models.Envelope, error)

	// Open authenticates and decrypts an envelope. Any mismatch fails with DecryptionFailure.
	// Open 认证并解密信封。任何不匹配都会以 DecryptionFailure 失败。
	Open(envelope models.Envelope, aad []byte) ([]byte, error)
}

// Clock supplies the current instant for iat, exp and expires_at comparisons.
// Clock 为 iat、exp 和 expires_at 的比较提供当前时间。
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// AuditService defines the interface for logging security-sensitive audit events.
// AuditService 定义了用于记录安全敏感审计事件的接口。
type AuditService interface {
	// LogEvent records an audit event.
	// LogEvent 记录审计事件。
	LogEvent(ctx context.Context, event models.AuditEvent) error
}

// JWKSCache stores published key sets per owner.
// JWKSCache 按所有者存储已发布的密钥集。
type JWKSCache interface {
	// Get returns the cached document and whether it was present.
	// Get 返回缓存的文档以及它是否存在。
	Get(ctx context.Context, owner models.OwnerRef) (*models.JWKS, bool, error)

	// Set stores the document for at most ttl.
	// Set 存储文档，最长 ttl。
	Set(ctx context.Context, owner models.OwnerRef, jwks *models.JWKS, ttl time.Duration) error

	// Invalidate drops the cached document of owner.
	// Invalidate 删除所有者的缓存文档。
	Invalidate(ctx context.Context, owner models.OwnerRef) error
}

// JWKSPublisher mirrors published key sets to an external origin, typically
// the bucket behind a CDN.
// JWKSPublisher 将已发布的密钥集镜像到外部源站（通常是 CDN 后的存储桶）。
type JWKSPublisher interface {
	// Publish writes the current document of owner.
	// Publish 写入所有者的当前文档。
	Publish(ctx context.Context, owner models.OwnerRef, jwks *models.JWKS) error

	// Remove deletes the document of owner.
	// Remove 删除所有者的文档。
	Remove(ctx context.Context, owner models.OwnerRef) error
}

// RateLimitDecision is the outcome of one rate limit check.
type RateLimitDecision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// RateLimiter throttles requests sharing a key.
// RateLimiter 对共享同一键的请求进行限流。
type RateLimiter interface {
	// Allow consumes one token for key and reports whether the request may proceed.
	// Allow 为键消耗一个令牌，并报告请求是否可以继续。
	Allow(ctx context.Context, key string) (*RateLimitDecision, error)
}
