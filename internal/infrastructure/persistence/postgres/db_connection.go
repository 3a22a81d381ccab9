// Package postgres provides the relational store of the credential core.
// PostgreSQL (gorm + pgx) is the production backend; SQLite serves tests and
// single-node development through the same repositories and migrations.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/pkg/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DBConnection manages the gorm handle and its connection pool.
type DBConnection struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config *config.DatabaseConfig
	logger logger.Logger
}

// NewDBConnection opens the configured database and performs an initial health check.
//
// Parameters:
//   - ctx: Context for connection timeout control
//   - cfg: Database configuration including driver, credentials, and pool settings
//   - log: Logger instance for connection lifecycle events
//
// Returns:
//   - *DBConnection: Initialized connection manager
//   - error: Connection establishment error if any
func NewDBConnection(ctx context.Context, cfg *config.DatabaseConfig, log logger.Logger) (*DBConnection, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	log = log.WithComponent("database")

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		log.Info(ctx, "Initializing PostgreSQL connection pool",
			logger.String("host", cfg.Host),
			logger.Int("port", cfg.Port),
			logger.String("database", cfg.Database),
			logger.Int("max_conns", cfg.MaxConns),
		)
		dialector = postgres.Open(cfg.GetDSN())
	case DriverSQLite:
		log.Info(ctx, "Initializing SQLite database", logger.String("database", cfg.Database))
		dialector = sqlite.Open(sqliteDSN(cfg.Database))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		log.Error(ctx, "Failed to open database", err)
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// A single connection serialises writers and keeps ":memory:" databases alive.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxConns)
		sqlDB.SetMaxIdleConns(cfg.MinConns)
		sqlDB.SetConnMaxLifetime(cfg.MaxConnLifetime)
		sqlDB.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
	}

	conn := &DBConnection{db: db, sqlDB: sqlDB, config: cfg, logger: log}
	if err := conn.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	log.Info(ctx, "Database connection initialized successfully", logger.String("driver", cfg.Driver))
	return conn, nil
}

// sqliteDSN enables foreign keys and a busy timeout on every connection.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// DB returns the gorm handle used by the repositories.
func (c *DBConnection) DB() *gorm.DB {
	return c.db
}

// SQLDB returns the underlying database/sql handle.
func (c *DBConnection) SQLDB() *sql.DB {
	return c.sqlDB
}

// Driver returns the configured driver name.
func (c *DBConnection) Driver() string {
	return c.config.Driver
}

// Ping verifies database connectivity and responsiveness.
func (c *DBConnection) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := c.sqlDB.PingContext(pingCtx); err != nil {
		c.logger.Error(ctx, "Database ping failed", err)
		return fmt.Errorf("ping database: %w", err)
	}

	if latency := time.Since(start); latency > 100*time.Millisecond {
		c.logger.Warn(ctx, "High database latency detected",
			logger.Int64("latency_ms", latency.Milliseconds()),
			logger.Int("threshold_ms", 100),
		)
	}
	return nil
}

// HealthCheck returns connection pool statistics after a successful ping.
func (c *DBConnection) HealthCheck(ctx context.Context) (map[string]interface{}, error) {
	if err := c.Ping(ctx); err != nil {
		return nil, err
	}

	stats := c.sqlDB.Stats()
	info := map[string]interface{}{
		"status":           "healthy",
		"driver":           c.config.Driver,
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"wait_duration_ms": stats.WaitDuration.Milliseconds(),
	}
	if c.config.MaxConns > 0 && stats.InUse >= c.config.MaxConns {
		c.logger.Warn(ctx, "Connection pool exhausted",
			logger.Int("in_use", stats.InUse),
			logger.Int("max_conns", c.config.MaxConns),
		)
		info["warning"] = "connection_pool_near_limit"
	}
	return info, nil
}

// Close shuts down the connection pool.
func (c *DBConnection) Close() error {
	c.logger.Info(context.Background(), "Closing database connection pool")
	return c.sqlDB.Close()
}
