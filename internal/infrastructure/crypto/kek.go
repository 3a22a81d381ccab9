package crypto

import (
	"context"
	"fmt"

	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/logger"
)

// SecretSource fetches the key-encryption secret from an external secret store.
type SecretSource interface {
	FetchSecret(ctx context.Context) (string, error)
}

// SecretOrigin records where the key-encryption secret came from.
type SecretOrigin string

const (
	SecretFromVault       SecretOrigin = "vault"
	SecretFromConfig      SecretOrigin = "config"
	SecretFromDevelopment SecretOrigin = "development-default"
)

// ResolveKeyEncryptionSecret picks the deployment secret: the secret store when
// one is given, then the configured value, then (outside production only) the
// fixed development secret. A failing secret store is fatal rather than skipped.
func ResolveKeyEncryptionSecret(
	ctx context.Context,
	source SecretSource,
	configured string,
	production bool,
	log logger.Logger,
) ([]byte, SecretOrigin, error) {
	if source != nil {
		secret, err := source.FetchSecret(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("fetch key-encryption secret: %w", err)
		}
		if secret == "" {
			return nil, "", fmt.Errorf("key-encryption secret in secret store is empty")
		}
		log.Info(ctx, "Key-encryption secret loaded", logger.String("origin", string(SecretFromVault)))
		return []byte(secret), SecretFromVault, nil
	}

	if configured != "" {
		log.Info(ctx, "Key-encryption secret loaded", logger.String("origin", string(SecretFromConfig)))
		return []byte(configured), SecretFromConfig, nil
	}

	if production {
		return nil, "", fmt.Errorf("no key-encryption secret configured; set CREDCORE_CRYPTO_KEY_ENCRYPTION_SECRET or enable vault")
	}

	log.Warn(ctx, "!!! NO KEY-ENCRYPTION SECRET CONFIGURED: USING THE FIXED DEVELOPMENT SECRET. PRIVATE KEYS ARE NOT PROTECTED. NEVER RUN THIS IN PRODUCTION !!!",
		logger.String("origin", string(SecretFromDevelopment)))
	return []byte(constants.DevelopmentKeyEncryptionSecret), SecretFromDevelopment, nil
}
