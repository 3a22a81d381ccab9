package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/utils"
)

// ec256CoordinateSize is the fixed width of P-256 coordinates in a JWK.
const ec256CoordinateSize = 32

// GenerateSigningKey creates a private key for alg.
func GenerateSigningKey(alg constants.JWTAlgorithm, rsaBits int) (crypto.Signer, error) {
	switch alg {
	case constants.AlgorithmRS256:
		if rsaBits < constants.DefaultRSAKeyBits {
			rsaBits = constants.DefaultRSAKeyBits
		}
		key, err := rsa.GenerateKey(rand.Reader, rsaBits)
		if err != nil {
			return nil, fmt.Errorf("generate rsa key: %w", err)
		}
		return key, nil
	case constants.AlgorithmES256:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ecdsa key: %w", err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("unsupported algorithm %q", alg)
}

// MarshalPrivateKey encodes a private key as PKCS#8 DER, the plaintext of an envelope.
func MarshalPrivateKey(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return der, nil
}

// ParsePrivateKey decodes PKCS#8 DER and checks that it fits alg.
func ParsePrivateKey(der []byte, alg constants.JWTAlgorithm) (crypto.Signer, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("private key of type %T cannot sign", parsed)
	}
	if err := CheckAlgorithm(signer.Public(), alg); err != nil {
		return nil, err
	}
	return signer, nil
}

// EncodePublicKeyPEM renders a public key as a PKIX "PUBLIC KEY" PEM block.
func EncodePublicKeyPEM(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKeyPEM decodes a PKIX PEM public key.
func ParsePublicKeyPEM(data string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block containing public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}

// CheckAlgorithm verifies that pub is usable with alg.
func CheckAlgorithm(pub crypto.PublicKey, alg constants.JWTAlgorithm) error {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if alg == constants.AlgorithmRS256 {
			return nil
		}
	case *ecdsa.PublicKey:
		if alg == constants.AlgorithmES256 && k.Curve == elliptic.P256() {
			return nil
		}
	}
	return fmt.Errorf("key of type %T does not match algorithm %s", pub, alg)
}

// SigningMethod returns the jwt signing method for alg.
func SigningMethod(alg constants.JWTAlgorithm) (jwt.SigningMethod, error) {
	switch alg {
	case constants.AlgorithmRS256:
		return jwt.SigningMethodRS256, nil
	case constants.AlgorithmES256:
		return jwt.SigningMethodES256, nil
	}
	return nil, fmt.Errorf("unsupported algorithm %q", alg)
}

// PublicJWK exports pub as a signature JWK.
func PublicJWK(kid string, alg constants.JWTAlgorithm, pub crypto.PublicKey) (models.JWK, error) {
	jwk := models.JWK{Use: "sig", Alg: string(alg), Kid: kid}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		jwk.Kty = "RSA"
		jwk.N = utils.Base64URLUint(k.N)
		jwk.E = utils.Base64URLUint(big.NewInt(int64(k.E)))
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return models.JWK{}, fmt.Errorf("unsupported curve %s", k.Curve.Params().Name)
		}
		jwk.Kty = "EC"
		jwk.Crv = "P-256"
		jwk.X = utils.Base64URLFixed(k.X, ec256CoordinateSize)
		jwk.Y = utils.Base64URLFixed(k.Y, ec256CoordinateSize)
	default:
		return models.JWK{}, fmt.Errorf("unsupported public key type %T", pub)
	}
	return jwk, nil
}

// PublicKeyFromJWK rebuilds the public key published in a JWK.
func PublicKeyFromJWK(jwk models.JWK) (crypto.PublicKey, error) {
	switch jwk.Kty {
	case "RSA":
		n, err := utils.DecodeBase64URLUint(jwk.N)
		if err != nil {
			return nil, fmt.Errorf("decode n: %w", err)
		}
		e, err := utils.DecodeBase64URLUint(jwk.E)
		if err != nil {
			return nil, fmt.Errorf("decode e: %w", err)
		}
		if !e.IsInt64() || e.Int64() > 1<<31-1 {
			return nil, fmt.Errorf("rsa exponent out of range")
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	case "EC":
		if jwk.Crv != "P-256" {
			return nil, fmt.Errorf("unsupported curve %q", jwk.Crv)
		}
		x, err := utils.DecodeBase64URLUint(jwk.X)
		if err != nil {
			return nil, fmt.Errorf("decode x: %w", err)
		}
		y, err := utils.DecodeBase64URLUint(jwk.Y)
		if err != nil {
			return nil, fmt.Errorf("decode y: %w", err)
		}
		return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
	}
	return nil, fmt.Errorf("unsupported key type %q", jwk.Kty)
}
