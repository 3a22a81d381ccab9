package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/infrastructure/crypto"
	"github.com/turtacn/credcore/pkg/constants"
)

// TestSecret is the key-encryption secret used by tests.
const TestSecret = "credcore-test-key-encryption-secret"

// NewEnvelopeCipher returns an AES-256-GCM cipher over TestSecret.
func NewEnvelopeCipher(t testing.TB) *crypto.EnvelopeCipher {
	t.Helper()
	c, err := crypto.NewEnvelopeCipher([]byte(TestSecret), constants.CipherAES256GCM)
	require.NoError(t, err)
	return c
}

// NewKeyPair builds a sealed ES256 key pair row for owner.
func NewKeyPair(t testing.TB, owner models.OwnerRef, status constants.KeyStatus, createdAt time.Time) *models.KeyPair {
	t.Helper()
	signer, err := crypto.GenerateSigningKey(constants.AlgorithmES256, 0)
	require.NoError(t, err)
	pemStr, err := crypto.EncodePublicKeyPEM(signer.Public())
	require.NoError(t, err)
	der, err := crypto.MarshalPrivateKey(signer)
	require.NoError(t, err)

	kid := uuid.NewString()
	env, err := NewEnvelopeCipher(t).Seal(der, []byte(kid))
	require.NoError(t, err)

	key := &models.KeyPair{
		ID:           uuid.NewString(),
		OwnerKind:    owner.Kind,
		OwnerID:      owner.ID,
		Kid:          kid,
		Algorithm:    constants.AlgorithmES256,
		PublicKeyPEM: pemStr,
		Status:       status,
		CreatedAt:    createdAt.UTC(),
	}
	key.SetEnvelope(env)
	return key
}
