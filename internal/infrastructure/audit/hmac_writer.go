package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignaturePayload calculates the HMAC-SHA256 signature of a serialized audit event.
func SignaturePayload(payload []byte, secretKey string) string {
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write(payload)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature produced by SignaturePayload in constant time.
func VerifySignature(payload []byte, signature, secretKey string) bool {
	want, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), want)
}
