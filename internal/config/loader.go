package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/logger"
)

// Loader reads configuration from file, environment variables and defaults,
// and optionally watches the file for changes.
type Loader struct {
	v   *viper.Viper
	log logger.Logger
}

// NewLoader creates a loader. configFile may be empty, in which case
// credcore.yaml is searched in /etc/credcore/ and the working directory.
func NewLoader(configFile string, log logger.Logger) *Loader {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("credcore")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/credcore/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CREDCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, log: log.WithComponent("config")}
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		l.log.Info(context.Background(), "No config file found, using defaults and environment")
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Watch invokes onChange with the freshly loaded configuration every time the
// config file is written. Invalid intermediate states are logged and skipped.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var cfg Config
		if err := l.v.Unmarshal(&cfg); err != nil {
			l.log.Error(context.Background(), "Failed to reload config", err, logger.String("file", e.Name))
			return
		}
		if err := cfg.Validate(); err != nil {
			l.log.Error(context.Background(), "Reloaded config is invalid", err, logger.String("file", e.Name))
			return
		}
		l.log.Info(context.Background(), "Config reloaded", logger.String("file", e.Name))
		onChange(&cfg)
	})
	l.v.WatchConfig()
}

// LoadConfig loads the configuration from file, environment variables, and defaults.
func LoadConfig(configFile string, log logger.Logger) (*Config, error) {
	return NewLoader(configFile, log).Load()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "credcore")
	v.SetDefault("app.environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.enable_pprof", false)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.admin_token", "")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "credcore")
	v.SetDefault("database.database", "credcore")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.max_conn_idle_time", "5m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "")
	v.SetDefault("vault.secret_field", "key_encryption_secret")

	v.SetDefault("crypto.key_encryption_secret", "")
	v.SetDefault("crypto.cipher", string(constants.CipherAES256GCM))

	v.SetDefault("keys.algorithm", string(constants.DefaultJWTAlgorithm))
	v.SetDefault("keys.rsa_bits", constants.DefaultRSAKeyBits)
	v.SetDefault("keys.verification_grace", "0s")

	v.SetDefault("jwt.access_token_ttl", constants.AccessTokenDefaultTTL.String())
	v.SetDefault("jwt.leeway", constants.DefaultClockLeeway.String())

	v.SetDefault("session.refresh_token_ttl", constants.RefreshTokenDefaultTTL.String())

	v.SetDefault("cache.jwks_ttl", constants.JWKSCacheTTL.String())
	v.SetDefault("cache.jwks_local_ttl", constants.JWKSLocalCacheTTL.String())

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.audit_topic", "credcore.audit")
	v.SetDefault("kafka.write_timeout", "5s")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "100ms")
	v.SetDefault("kafka.required_acks", -1)
	v.SetDefault("kafka.signing_secret", "")
	v.SetDefault("kafka.revocation_topic", "")
	v.SetDefault("kafka.consumer_group", "credcore-revocations")

	v.SetDefault("log.level", string(constants.LogLevelInfo))
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.jaeger_endpoint", "")
	v.SetDefault("tracing.service_name", "credcore")

	v.SetDefault("sweeper.interval", "0s")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_minute", constants.DefaultRateLimitPerMinute)
	v.SetDefault("rate_limit.burst", constants.DefaultRateLimitBurst)
	v.SetDefault("rate_limit.key_prefix", constants.RateLimitKeyPrefix)

	v.SetDefault("cdn.enabled", false)
	v.SetDefault("cdn.provider", "s3")
	v.SetDefault("cdn.bucket", "")
	v.SetDefault("cdn.region", "us-east-1")
	v.SetDefault("cdn.endpoint", "")
	v.SetDefault("cdn.access_key_id", "")
	v.SetDefault("cdn.secret_access_key", "")
	v.SetDefault("cdn.key_prefix", "")
	v.SetDefault("cdn.max_age", constants.JWKSLocalCacheTTL.String())
}
