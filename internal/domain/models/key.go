package models

import (
	"crypto"
	"time"

	"github.com/turtacn/credcore/pkg/constants"
)

// KeyPair is the persisted signing key of an owner. The private half is only
// ever stored sealed in an envelope bound to Kid.
// KeyPair 是所有者持久化的签名密钥。私钥部分只以与 Kid 绑定的信封形式存储。
type KeyPair struct {
	// ID is the row identifier.
	// ID 是记录标识符。
	ID string `gorm:"primaryKey;column:id"`
	// OwnerKind and OwnerID reference the owning owners row.
	// OwnerKind 和 OwnerID 引用所属的 owners 记录。
	OwnerKind constants.OwnerKind `gorm:"column:owner_kind"`
	OwnerID   string              `gorm:"column:owner_id"`
	// Kid is the globally unique key identifier placed in token headers.
	// Kid 是放在令牌头中的全局唯一密钥标识符。
	Kid string `gorm:"column:kid"`
	// Algorithm is the JWS algorithm this key signs with (RS256 or ES256).
	// Algorithm 是此密钥使用的 JWS 签名算法（RS256 或 ES256）。
	Algorithm constants.JWTAlgorithm `gorm:"column:algorithm"`
	// PublicKeyPEM is the PKIX public key in PEM format.
	// PublicKeyPEM 是 PEM 格式的 PKIX 公钥。
	PublicKeyPEM string `gorm:"column:public_key"`
	// The sealed PKCS#8 private key.
	// 密封后的 PKCS#8 私钥。
	PrivateKeyCipher     constants.CipherID `gorm:"column:private_key_cipher"`
	PrivateKeyNonce      []byte             `gorm:"column:private_key_nonce"`
	PrivateKeyCiphertext []byte             `gorm:"column:private_key_ciphertext"`
	PrivateKeyTag        []byte             `gorm:"column:private_key_tag"`
	// Status is active, retiring or revoked.
	// Status 为 active、retiring 或 revoked。
	Status constants.KeyStatus `gorm:"column:status"`
	// CreatedAt is the instant the key was generated.
	// CreatedAt 是密钥生成的时间。
	CreatedAt time.Time `gorm:"column:created_at"`
	// RevokedAt is set when the key stops signing.
	// RevokedAt 在密钥停止签名时设置。
	RevokedAt *time.Time `gorm:"column:revoked_at"`
	// VerifyUntil bounds verification of a retiring key.
	// VerifyUntil 限定 retiring 密钥的验证截止时间。
	VerifyUntil *time.Time `gorm:"column:verify_until"`
}

// TableName overrides the gorm table name.
func (KeyPair) TableName() string { return "key_pairs" }

// Owner returns the owner reference of the key.
func (k *KeyPair) Owner() OwnerRef {
	return OwnerRef{Kind: k.OwnerKind, ID: k.OwnerID}
}

// Envelope returns the sealed private key.
func (k *KeyPair) Envelope() Envelope {
	return Envelope{
		Cipher:     k.PrivateKeyCipher,
		Nonce:      k.PrivateKeyNonce,
		Ciphertext: k.PrivateKeyCiphertext,
		Tag:        k.PrivateKeyTag,
	}
}

// SetEnvelope stores a sealed private key on the row.
func (k *KeyPair) SetEnvelope(env Envelope) {
	k.PrivateKeyCipher = env.Cipher
	k.PrivateKeyNonce = env.Nonce
	k.PrivateKeyCiphertext = env.Ciphertext
	k.PrivateKeyTag = env.Tag
}

// VerifiableAt reports whether tokens signed by this key may be verified at now.
func (k *KeyPair) VerifiableAt(now time.Time) bool {
	switch k.Status {
	case constants.KeyStatusActive:
		return true
	case constants.KeyStatusRetiring:
		return k.VerifyUntil != nil && now.Before(*k.VerifyUntil)
	}
	return false
}

// Envelope is the output of authenticated symmetric encryption.
// Envelope 是认证对称加密的输出。
type Envelope struct {
	Cipher     constants.CipherID
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// KeyInfo is the public view of a key pair. It never carries private material.
// KeyInfo 是密钥对的公开视图，从不携带私钥材料。
type KeyInfo struct {
	Kid          string                 `json:"kid"`
	Owner        OwnerRef               `json:"owner"`
	Algorithm    constants.JWTAlgorithm `json:"alg"`
	Status       constants.KeyStatus    `json:"status"`
	PublicKeyPEM string                 `json:"public_key_pem"`
	PublicKey    crypto.PublicKey       `json:"-"`
	CreatedAt    time.Time              `json:"created_at"`
	RevokedAt    *time.Time             `json:"revoked_at,omitempty"`
	VerifyUntil  *time.Time             `json:"verify_until,omitempty"`
}

// SigningKey is an active key with its private half opened.
// SigningKey 是已解密私钥的活动密钥。
type SigningKey struct {
	KeyInfo
	PrivateKey crypto.Signer `json:"-"`
}

// JWK is a single public key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is the published key set of an owner.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// Find returns the JWK with the given kid.
func (s *JWKS) Find(kid string) (JWK, bool) {
	for _, k := range s.Keys {
		if k.Kid == kid {
			return k, true
		}
	}
	return JWK{}, false
}
