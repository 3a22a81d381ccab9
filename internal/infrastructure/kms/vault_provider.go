// Package kms reads the deployment key-encryption secret from HashiCorp Vault.
package kms

import (
	"context"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/pkg/logger"
)

// VaultSecretSource fetches the key-encryption secret from a KV v2 secret.
type VaultSecretSource struct {
	client  *vault.Client
	config  config.VaultConfig
	metrics service.Metrics
	logger  logger.Logger
}

// NewVaultClient creates and configures a Vault client from cfg.
func NewVaultClient(cfg config.VaultConfig) (*vault.Client, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return client, nil
}

// NewVaultSecretSource creates a secret source reading cfg.SecretField at
// cfg.SecretPath under the cfg.MountPath KV v2 engine.
func NewVaultSecretSource(cfg config.VaultConfig, client *vault.Client, metrics service.Metrics, log logger.Logger) *VaultSecretSource {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &VaultSecretSource{
		client:  client,
		config:  cfg,
		metrics: metrics,
		logger:  log.WithComponent("VaultSecretSource"),
	}
}

// FetchSecret reads the configured field of the secret.
func (s *VaultSecretSource) FetchSecret(ctx context.Context) (string, error) {
	start := time.Now()
	secret, err := s.client.KVv2(s.config.MountPath).Get(ctx, s.config.SecretPath)
	s.metrics.RecordVaultAPI("kv_get", time.Since(start), err)
	if err != nil {
		s.logger.Error(ctx, "Failed to read key-encryption secret from Vault", err,
			logger.String("mount", s.config.MountPath), logger.String("path", s.config.SecretPath))
		return "", fmt.Errorf("read vault secret %s/%s: %w", s.config.MountPath, s.config.SecretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault secret %s/%s has no data", s.config.MountPath, s.config.SecretPath)
	}

	value, ok := secret.Data[s.config.SecretField].(string)
	if !ok {
		return "", fmt.Errorf("field %q not found or not a string in vault secret", s.config.SecretField)
	}
	return value, nil
}
