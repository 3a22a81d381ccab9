// Package utils holds small helpers shared by the core and its adapters.
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
)

// GenerateRefreshToken returns a URL-safe random token carrying n bytes of entropy.
func GenerateRefreshToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Fingerprint is the one-way hash stored in place of a raw refresh token.
func Fingerprint(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// Base64URLUint encodes a big integer as unpadded base64url, as JWK members require.
func Base64URLUint(i *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(i.Bytes())
}

// Base64URLFixed encodes a big integer left-padded to size bytes (EC coordinates).
func Base64URLFixed(i *big.Int, size int) string {
	buf := make([]byte, size)
	i.FillBytes(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// DecodeBase64URLUint decodes an unpadded base64url big-endian integer.
func DecodeBase64URLUint(s string) (*big.Int, error) {
	buf, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("empty integer")
	}
	return new(big.Int).SetBytes(buf), nil
}
