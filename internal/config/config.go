package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/turtacn/credcore/pkg/constants"
)

// Config holds the application's configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	Keys      KeysConfig      `mapstructure:"keys"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Session   SessionConfig   `mapstructure:"session"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	CDN       CDNConfig       `mapstructure:"cdn"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// IsProduction reports whether development fallbacks must be refused.
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, constants.EnvironmentProduction)
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	EnablePprof     bool          `mapstructure:"enable_pprof"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	// AdminToken guards key management and session opening. Empty disables the check.
	AdminToken string `mapstructure:"admin_token"`
}

// GRPCAddr is the gRPC listen address.
func (c ServerConfig) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// Addr is the HTTP listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects the relational store. Driver is "postgres" or "sqlite";
// for sqlite, Database is the file path (or ":memory:").
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// GetDSN renders the driver-specific connection string.
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.Database
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Addresses    []string `mapstructure:"addresses"`
	Password     string   `mapstructure:"password"`
	DB           int      `mapstructure:"db"`
	PoolSize     int      `mapstructure:"pool_size"`
	MinIdleConns int      `mapstructure:"min_idle_conns"`
}

// VaultConfig points at the KV v2 secret holding the key-encryption secret.
type VaultConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Address     string `mapstructure:"address"`
	Token       string `mapstructure:"token"`
	MountPath   string `mapstructure:"mount_path"`
	SecretPath  string `mapstructure:"secret_path"`
	SecretField string `mapstructure:"secret_field"`
}

type CryptoConfig struct {
	KeyEncryptionSecret string `mapstructure:"key_encryption_secret"`
	Cipher              string `mapstructure:"cipher"`
}

// KeysConfig controls generated key pairs and the rotation policy.
// VerificationGrace of zero means revoked keys are never resolvable.
type KeysConfig struct {
	Algorithm         string        `mapstructure:"algorithm"`
	RSABits           int           `mapstructure:"rsa_bits"`
	VerificationGrace time.Duration `mapstructure:"verification_grace"`
}

type JWTConfig struct {
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	Leeway         time.Duration `mapstructure:"leeway"`
}

type SessionConfig struct {
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

type CacheConfig struct {
	JWKSTTL      time.Duration `mapstructure:"jwks_ttl"`
	JWKSLocalTTL time.Duration `mapstructure:"jwks_local_ttl"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	AuditTopic   string        `mapstructure:"audit_topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
	// SigningSecret, when set, adds an HMAC-SHA256 signature header to every audit message.
	SigningSecret string `mapstructure:"signing_secret"`
	// RevocationTopic carries session revocation commands. Empty disables the consumer.
	RevocationTopic string `mapstructure:"revocation_topic"`
	ConsumerGroup   string `mapstructure:"consumer_group"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
}

// RateLimitConfig throttles the session endpoints per owner and client address.
type RateLimitConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
	KeyPrefix         string `mapstructure:"key_prefix"`
}

// SweeperConfig enables the in-process hygiene loop. Interval zero disables it.
type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// CDNConfig mirrors every owner's JWKS document to a CDN origin. Provider
// "s3" writes to an S3-compatible bucket; "log" only logs what would be written.
type CDNConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Provider        string        `mapstructure:"provider"`
	Bucket          string        `mapstructure:"bucket"`
	Region          string        `mapstructure:"region"`
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	switch constants.JWTAlgorithm(c.Keys.Algorithm) {
	case constants.AlgorithmRS256, constants.AlgorithmES256:
	default:
		return fmt.Errorf("keys.algorithm must be RS256 or ES256, got %q", c.Keys.Algorithm)
	}
	if constants.JWTAlgorithm(c.Keys.Algorithm) == constants.AlgorithmRS256 && c.Keys.RSABits < 2048 {
		return fmt.Errorf("keys.rsa_bits must be at least 2048, got %d", c.Keys.RSABits)
	}
	switch constants.CipherID(c.Crypto.Cipher) {
	case constants.CipherAES256GCM, constants.CipherXChaCha20Poly1305:
	default:
		return fmt.Errorf("crypto.cipher must be %s or %s, got %q",
			constants.CipherAES256GCM, constants.CipherXChaCha20Poly1305, c.Crypto.Cipher)
	}
	if c.Keys.VerificationGrace < 0 {
		return fmt.Errorf("keys.verification_grace must not be negative")
	}
	if c.JWT.AccessTokenTTL <= 0 || c.JWT.AccessTokenTTL > constants.AccessTokenMaxTTL {
		return fmt.Errorf("jwt.access_token_ttl must be in (0, %s]", constants.AccessTokenMaxTTL)
	}
	if c.Session.RefreshTokenTTL <= 0 {
		return fmt.Errorf("session.refresh_token_ttl must be positive")
	}
	if c.Vault.Enabled && (c.Vault.Address == "" || c.Vault.SecretPath == "") {
		return fmt.Errorf("vault.address and vault.secret_path are required when vault is enabled")
	}
	if c.Redis.Enabled && len(c.Redis.Addresses) == 0 {
		return fmt.Errorf("redis.addresses is required when redis is enabled")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit.requests_per_minute and rate_limit.burst must be positive when rate limiting is enabled")
	}
	if c.App.IsProduction() && c.Server.AdminToken == "" {
		return fmt.Errorf("server.admin_token is required in production")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.AuditTopic == "") {
		return fmt.Errorf("kafka.brokers and kafka.audit_topic are required when kafka is enabled")
	}
	if c.CDN.Enabled {
		switch c.CDN.Provider {
		case "log":
		case "s3":
			if c.CDN.Bucket == "" {
				return fmt.Errorf("cdn.bucket is required for the s3 provider")
			}
		default:
			return fmt.Errorf("cdn.provider must be s3 or log, got %q", c.CDN.Provider)
		}
	}
	return nil
}
