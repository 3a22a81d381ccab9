package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
)

func newTestCipher(t *testing.T, id constants.CipherID) *EnvelopeCipher {
	t.Helper()
	c, err := NewEnvelopeCipher([]byte("test-key-encryption-secret"), id)
	require.NoError(t, err)
	return c
}

func TestEnvelopeCipher_RoundTrip(t *testing.T) {
	for _, id := range []constants.CipherID{constants.CipherAES256GCM, constants.CipherXChaCha20Poly1305} {
		t.Run(string(id), func(t *testing.T) {
			c := newTestCipher(t, id)
			for _, size := range []int{0, 1, 31, 1218} {
				plaintext := make([]byte, size)
				_, err := rand.Read(plaintext)
				require.NoError(t, err)

				env, err := c.Seal(plaintext, []byte("kid-1"))
				require.NoError(t, err)
				assert.Equal(t, id, env.Cipher)
				assert.Len(t, env.Tag, 16)

				opened, err := c.Open(env, []byte("kid-1"))
				require.NoError(t, err)
				assert.True(t, bytes.Equal(plaintext, opened))
			}
		})
	}
}

func TestEnvelopeCipher_FreshNonce(t *testing.T) {
	c := newTestCipher(t, constants.CipherAES256GCM)
	a, err := c.Seal([]byte("same"), []byte("kid"))
	require.NoError(t, err)
	b, err := c.Seal([]byte("same"), []byte("kid"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestEnvelopeCipher_BitFlips(t *testing.T) {
	c := newTestCipher(t, constants.CipherAES256GCM)
	plaintext := []byte("-----private key material-----")
	env, err := c.Seal(plaintext, []byte("kid-1"))
	require.NoError(t, err)

	// 逐位翻转密文和认证标签，每一次都必须失败
	for i := 0; i < len(env.Ciphertext)*8; i++ {
		tampered := env
		tampered.Ciphertext = append([]byte(nil), env.Ciphertext...)
		tampered.Ciphertext[i/8] ^= 1 << (i % 8)
		out, err := c.Open(tampered, []byte("kid-1"))
		require.Error(t, err, "ciphertext bit %d", i)
		assert.Nil(t, out)
		assert.True(t, errors.IsKind(err, errors.KindDecryptionFailure))
	}
	for i := 0; i < len(env.Tag)*8; i++ {
		tampered := env
		tampered.Tag = append([]byte(nil), env.Tag...)
		tampered.Tag[i/8] ^= 1 << (i % 8)
		out, err := c.Open(tampered, []byte("kid-1"))
		require.Error(t, err, "tag bit %d", i)
		assert.Nil(t, out)
		assert.True(t, errors.IsKind(err, errors.KindDecryptionFailure))
	}
}

func TestEnvelopeCipher_OpenFailures(t *testing.T) {
	c := newTestCipher(t, constants.CipherAES256GCM)
	env, err := c.Seal([]byte("secret"), []byte("kid-1"))
	require.NoError(t, err)

	other, err := NewEnvelopeCipher([]byte("another-secret"), constants.CipherAES256GCM)
	require.NoError(t, err)

	cases := []envelopeCase{
		{name: "wrong secret", cipher: other, aad: []byte("kid-1"), env: env},
		{name: "wrong aad", cipher: c, aad: []byte("kid-2"), env: env},
		{name: "unknown cipher", cipher: c, aad: []byte("kid-1"), env: withCipher(env, "rot13")},
		{name: "cipher mismatch", cipher: c, aad: []byte("kid-1"), env: withCipher(env, constants.CipherXChaCha20Poly1305)},
		{name: "short nonce", cipher: c, aad: []byte("kid-1"), env: withNonce(env, env.Nonce[:4])},
		{name: "missing tag", cipher: c, aad: []byte("kid-1"), env: withTag(env, nil)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := tc.cipher.Open(tc.env, tc.aad)
			require.Error(t, err)
			assert.Nil(t, out)
			assert.True(t, errors.IsKind(err, errors.KindDecryptionFailure))
		})
	}
}

type envelopeCase struct {
	name   string
	cipher *EnvelopeCipher
	aad    []byte
	env    models.Envelope
}

func withCipher(env models.Envelope, id constants.CipherID) models.Envelope {
	env.Cipher = id
	return env
}

func withNonce(env models.Envelope, nonce []byte) models.Envelope {
	env.Nonce = nonce
	return env
}

func withTag(env models.Envelope, tag []byte) models.Envelope {
	env.Tag = tag
	return env
}

func TestEnvelopeCipher_OpensOtherSupportedCipher(t *testing.T) {
	secret := []byte("shared-secret")
	xchacha, err := NewEnvelopeCipher(secret, constants.CipherXChaCha20Poly1305)
	require.NoError(t, err)
	gcm, err := NewEnvelopeCipher(secret, constants.CipherAES256GCM)
	require.NoError(t, err)

	env, err := xchacha.Seal([]byte("payload"), []byte("kid"))
	require.NoError(t, err)
	assert.Len(t, env.Nonce, 24)

	out, err := gcm.Open(env, []byte("kid"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), out)
}

func TestNewEnvelopeCipher_Validation(t *testing.T) {
	_, err := NewEnvelopeCipher(nil, constants.CipherAES256GCM)
	assert.Error(t, err)

	_, err = NewEnvelopeCipher([]byte("s"), "des")
	assert.Error(t, err)

	c, err := NewEnvelopeCipher([]byte("s"), "")
	require.NoError(t, err)
	assert.Equal(t, constants.CipherAES256GCM, c.Cipher())
}
