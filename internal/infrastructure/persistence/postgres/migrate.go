package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"github.com/turtacn/credcore/pkg/logger"
)

//go:embed migrations
var migrations embed.FS

// Migrate applies the embedded schema migrations for the connection's driver.
func Migrate(ctx context.Context, conn *DBConnection, log logger.Logger) error {
	var (
		dialect goose.Dialect
		dir     string
	)
	switch conn.Driver() {
	case DriverPostgres:
		dialect, dir = goose.DialectPostgres, "migrations/postgres"
	case DriverSQLite:
		dialect, dir = goose.DialectSQLite3, "migrations/sqlite"
	default:
		return fmt.Errorf("no migrations for driver %q", conn.Driver())
	}

	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, conn.SQLDB(), fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		log.Info(ctx, "Applied migration",
			logger.String("source", r.Source.Path),
			logger.Int64("version", r.Source.Version),
			logger.Duration("duration", r.Duration),
		)
	}
	return nil
}
