// Package crypto provides the cryptographic primitives of the credential core:
// authenticated envelopes for private keys, key pair generation and JWK export.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
)

const (
	dataKeySize = 32
	dataKeyInfo = "credcore/private-key-envelope/v1"
)

// EnvelopeCipher seals private keys under a data key derived from the
// deployment key-encryption secret.
type EnvelopeCipher struct {
	sealWith constants.CipherID
	dataKey  []byte
}

var _ service.EnvelopeCipher = (*EnvelopeCipher)(nil)

// NewEnvelopeCipher derives the data key from secret. New envelopes are sealed
// with sealWith; Open accepts any supported cipher recorded in the envelope.
func NewEnvelopeCipher(secret []byte, sealWith constants.CipherID) (*EnvelopeCipher, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("key-encryption secret is empty")
	}
	if sealWith == "" {
		sealWith = constants.CipherAES256GCM
	}
	if !SupportedCipher(sealWith) {
		return nil, fmt.Errorf("unsupported cipher %q", sealWith)
	}
	key, err := DeriveDataKey(secret)
	if err != nil {
		return nil, err
	}
	return &EnvelopeCipher{sealWith: sealWith, dataKey: key}, nil
}

// DeriveDataKey expands the key-encryption secret into a 32-byte data key with HKDF-SHA256.
func DeriveDataKey(secret []byte) ([]byte, error) {
	key := make([]byte, dataKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(dataKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive data key: %w", err)
	}
	return key, nil
}

// SupportedCipher reports whether id names a known AEAD.
func SupportedCipher(id constants.CipherID) bool {
	switch id {
	case constants.CipherAES256GCM, constants.CipherXChaCha20Poly1305:
		return true
	}
	return false
}

// Cipher returns the id used for new envelopes.
func (c *EnvelopeCipher) Cipher() constants.CipherID {
	return c.sealWith
}

// Seal encrypts plaintext with a fresh random nonce and binds it to aad.
func (c *EnvelopeCipher) Seal(plaintext, aad []byte) (models.Envelope, error) {
	aead, err := c.aead(c.sealWith)
	if err != nil {
		return models.Envelope{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return models.Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - aead.Overhead()
	return models.Envelope{
		Cipher:     c.sealWith,
		Nonce:      nonce,
		Ciphertext: sealed[:split],
		Tag:        sealed[split:],
	}, nil
}

// Open authenticates and decrypts env. It never returns partial plaintext.
func (c *EnvelopeCipher) Open(env models.Envelope, aad []byte) ([]byte, error) {
	if !SupportedCipher(env.Cipher) {
		return nil, errors.ErrDecryptionFailure(fmt.Sprintf("unknown cipher %q", env.Cipher))
	}
	aead, err := c.aead(env.Cipher)
	if err != nil {
		return nil, errors.ErrDecryptionFailure("cipher initialisation failed")
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, errors.ErrDecryptionFailure("malformed nonce")
	}
	if len(env.Tag) != aead.Overhead() {
		return nil, errors.ErrDecryptionFailure("malformed tag")
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.Tag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)

	plaintext, err := aead.Open(nil, env.Nonce, sealed, aad)
	if err != nil {
		return nil, errors.ErrDecryptionFailure("authentication failed")
	}
	return plaintext, nil
}

func (c *EnvelopeCipher) aead(id constants.CipherID) (cipher.AEAD, error) {
	switch id {
	case constants.CipherAES256GCM:
		block, err := aes.NewCipher(c.dataKey)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case constants.CipherXChaCha20Poly1305:
		return chacha20poly1305.NewX(c.dataKey)
	}
	return nil, fmt.Errorf("unsupported cipher %q", id)
}
