package crypto

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/logger"
)

type staticSource struct {
	secret string
	err    error
}

func (s staticSource) FetchSecret(context.Context) (string, error) { return s.secret, s.err }

func TestResolveKeyEncryptionSecret(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNoopLogger()

	secret, origin, err := ResolveKeyEncryptionSecret(ctx, staticSource{secret: "from-vault"}, "from-config", true, log)
	require.NoError(t, err)
	assert.Equal(t, SecretFromVault, origin)
	assert.Equal(t, []byte("from-vault"), secret)

	secret, origin, err = ResolveKeyEncryptionSecret(ctx, nil, "from-config", true, log)
	require.NoError(t, err)
	assert.Equal(t, SecretFromConfig, origin)
	assert.Equal(t, []byte("from-config"), secret)

	secret, origin, err = ResolveKeyEncryptionSecret(ctx, nil, "", false, log)
	require.NoError(t, err)
	assert.Equal(t, SecretFromDevelopment, origin)
	assert.Equal(t, []byte(constants.DevelopmentKeyEncryptionSecret), secret)
}

func TestResolveKeyEncryptionSecret_Failures(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNoopLogger()

	_, _, err := ResolveKeyEncryptionSecret(ctx, nil, "", true, log)
	assert.Error(t, err, "production must refuse the development secret")

	_, _, err = ResolveKeyEncryptionSecret(ctx, staticSource{err: fmt.Errorf("sealed")}, "from-config", false, log)
	assert.Error(t, err)

	_, _, err = ResolveKeyEncryptionSecret(ctx, staticSource{}, "from-config", false, log)
	assert.Error(t, err)
}
