// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/infrastructure/persistence/postgres"
	"github.com/turtacn/credcore/pkg/logger"
)

// NewSQLiteDB opens a migrated SQLite database in a temporary directory.
func NewSQLiteDB(t testing.TB) *postgres.DBConnection {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Driver:   postgres.DriverSQLite,
		Database: filepath.Join(t.TempDir(), "credcore.db"),
	}
	ctx := context.Background()

	conn, err := postgres.NewDBConnection(ctx, cfg, logger.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, postgres.Migrate(ctx, conn, logger.NewNoopLogger()))
	return conn
}
