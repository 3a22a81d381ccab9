package models

import "time"

// AccessClaims is the verified content of an access token.
// AccessClaims 是已验证访问令牌的内容。
type AccessClaims struct {
	// Registered claims.
	// 注册声明。
	Subject   string    `json:"sub"`
	Issuer    string    `json:"iss"`
	Audience  []string  `json:"aud"`
	IssuedAt  time.Time `json:"iat"`
	NotBefore time.Time `json:"nbf"`
	ExpiresAt time.Time `json:"exp"`
	ID        string    `json:"jti"`
	// SessionID is the sid claim, set for tokens minted by a session.
	// SessionID 是 sid 声明，由会话签发的令牌会设置。
	SessionID string `json:"sid,omitempty"`
	// KeyID is the kid header the token was signed under.
	// KeyID 是签名令牌时使用的 kid 头。
	KeyID string `json:"kid"`
	// Custom holds caller claims. They never shadow registered claims.
	// Custom 保存调用方声明，它们不会覆盖注册声明。
	Custom map[string]interface{} `json:"claims,omitempty"`
}

// HasAudience reports whether aud is among the token audiences.
func (c *AccessClaims) HasAudience(aud string) bool {
	for _, a := range c.Audience {
		if a == aud {
			return true
		}
	}
	return false
}

// Claim returns a custom claim by name.
func (c *AccessClaims) Claim(name string) (interface{}, bool) {
	v, ok := c.Custom[name]
	return v, ok
}
