// Package kms_test provides tests for the kms package.
package kms_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/infrastructure/kms"
	"github.com/turtacn/credcore/pkg/logger"
)

func newVaultServer(t *testing.T, data map[string]interface{}) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/secret/data/credcore/kek" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"data":     data,
				"metadata": map[string]interface{}{"version": 1},
			},
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestVaultSecretSource_FetchSecret(t *testing.T) {
	ts := newVaultServer(t, map[string]interface{}{"key_encryption_secret": "vault-secret"})
	cfg := config.VaultConfig{
		Enabled:     true,
		Address:     ts.URL,
		Token:       "test-token",
		MountPath:   "secret",
		SecretPath:  "credcore/kek",
		SecretField: "key_encryption_secret",
	}

	client, err := kms.NewVaultClient(cfg)
	require.NoError(t, err)

	source := kms.NewVaultSecretSource(cfg, client, nil, logger.NewNoopLogger())
	secret, err := source.FetchSecret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "vault-secret", secret)
}

func TestVaultSecretSource_MissingField(t *testing.T) {
	ts := newVaultServer(t, map[string]interface{}{"other": "value"})
	cfg := config.VaultConfig{
		Address: ts.URL, Token: "test-token", MountPath: "secret",
		SecretPath: "credcore/kek", SecretField: "key_encryption_secret",
	}
	client, err := kms.NewVaultClient(cfg)
	require.NoError(t, err)

	_, err = kms.NewVaultSecretSource(cfg, client, nil, logger.NewNoopLogger()).FetchSecret(context.Background())
	assert.Error(t, err)
}

func TestVaultSecretSource_NotFound(t *testing.T) {
	ts := newVaultServer(t, nil)
	cfg := config.VaultConfig{
		Address: ts.URL, Token: "test-token", MountPath: "secret",
		SecretPath: "credcore/missing", SecretField: "key_encryption_secret",
	}
	client, err := kms.NewVaultClient(cfg)
	require.NoError(t, err)

	_, err = kms.NewVaultSecretSource(cfg, client, nil, logger.NewNoopLogger()).FetchSecret(context.Background())
	assert.Error(t, err)
}
