// Package app assembles the credential core from configuration and runs its
// HTTP server, gRPC server and sweeper until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/turtacn/credcore/internal/application"
	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/internal/infrastructure/audit"
	"github.com/turtacn/credcore/internal/infrastructure/cache"
	"github.com/turtacn/credcore/internal/infrastructure/cdn"
	"github.com/turtacn/credcore/internal/infrastructure/consumers"
	"github.com/turtacn/credcore/internal/infrastructure/crypto"
	"github.com/turtacn/credcore/internal/infrastructure/kms"
	"github.com/turtacn/credcore/internal/infrastructure/monitoring"
	"github.com/turtacn/credcore/internal/infrastructure/persistence/postgres"
	redisstore "github.com/turtacn/credcore/internal/infrastructure/persistence/redis"
	"github.com/turtacn/credcore/internal/infrastructure/ratelimit"
	grpcapi "github.com/turtacn/credcore/internal/interfaces/grpc"
	httpapi "github.com/turtacn/credcore/internal/interfaces/http"
	"github.com/turtacn/credcore/internal/interfaces/http/handlers"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/logger"
)

// App holds every long-lived component of a running credential core.
type App struct {
	Config      *config.Config
	Logger      logger.Logger
	Metrics     *monitoring.Metrics
	Tracing     *monitoring.TracingManager
	DB          *postgres.DBConnection
	Redis       *redisstore.RedisConnection
	Audit       service.AuditService
	Limiter     service.RateLimiter
	Publisher   service.JWKSPublisher
	Keys        *application.KeyManagementService
	Credentials *application.CredentialService
	Sweeper     *application.Sweeper
	Revocations *consumers.RevocationConsumer
	HTTP        *httpapi.Router
	GRPC        *grpc.Server
	GRPCHealth  *health.Server

	closers []func(context.Context) error
}

// New wires the application. On error every component opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log, Metrics: monitoring.NewMetrics()}
	if err := a.build(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) (err error) {
	cfg, log := a.Config, a.Logger

	if a.Tracing, err = monitoring.NewTracingManager(cfg, log); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.onClose(a.Tracing.Shutdown)

	if a.DB, err = postgres.NewDBConnection(ctx, &cfg.Database, log); err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.onClose(func(context.Context) error { return a.DB.Close() })
	if cfg.Database.AutoMigrate {
		if err = postgres.Migrate(ctx, a.DB, log); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	cipher, err := a.envelopeCipher(ctx)
	if err != nil {
		return err
	}

	var shared service.JWKSCache
	if cfg.Redis.Enabled {
		a.Redis = redisstore.NewRedisConnection(&cfg.Redis, log)
		if err = a.Redis.Connect(ctx); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.onClose(func(context.Context) error { return a.Redis.Close() })
		shared = redisstore.NewJWKSCache(a.Redis.Client(), log)
	}
	jwksCache := cache.NewTieredJWKSCache(cfg.Cache.JWKSLocalTTL, shared, a.Metrics, log)

	if cfg.RateLimit.Enabled {
		if a.Redis != nil {
			if a.Limiter, err = ratelimit.NewRedisRateLimiter(a.Redis.Client(), &cfg.RateLimit, service.SystemClock{}, log); err != nil {
				return fmt.Errorf("init rate limiter: %w", err)
			}
		} else {
			a.Limiter = ratelimit.NewLocalRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RequestsPerMinute, service.SystemClock{})
		}
	}

	if cfg.Kafka.Enabled {
		producer := audit.NewKafkaProducer(cfg.Kafka, log)
		a.onClose(func(context.Context) error { return producer.Close() })
		a.Audit = producer
	} else {
		a.Audit = audit.NewLogAuditService(log)
	}

	clock := service.SystemClock{}
	keyRepo := postgres.NewKeyRepository(a.DB.DB(), a.Metrics, log)
	sessionRepo := postgres.NewSessionRepository(a.DB.DB(), a.Metrics, log)

	a.Keys = application.NewKeyManagementService(keyRepo, cipher, jwksCache, clock, application.KeyPolicy{
		Algorithm:         constants.JWTAlgorithm(cfg.Keys.Algorithm),
		RSABits:           cfg.Keys.RSABits,
		VerificationGrace: cfg.Keys.VerificationGrace,
		JWKSCacheTTL:      cfg.Cache.JWKSTTL,
	}, log)
	if a.Publisher, err = a.jwksPublisher(ctx); err != nil {
		return err
	}
	if a.Publisher != nil {
		a.Keys.SetPublisher(a.Publisher)
	}
	tokens := application.NewTokenService(a.Keys, clock, application.TokenPolicy{
		AccessTokenTTL: cfg.JWT.AccessTokenTTL,
		Leeway:         cfg.JWT.Leeway,
	}, log)
	sessions := application.NewSessionService(sessionRepo, tokens, clock, application.SessionPolicy{
		RefreshTokenTTL: cfg.Session.RefreshTokenTTL,
	}, a.Audit, a.Metrics, log)
	a.Credentials = application.NewCredentialService(a.Keys, tokens, sessions, a.Audit, a.Metrics, clock, log)
	a.Sweeper = application.NewSweeper(keyRepo, sessionRepo, clock, a.Metrics, log)

	if cfg.Kafka.Enabled && cfg.Kafka.RevocationTopic != "" {
		a.Revocations = consumers.NewRevocationConsumer(cfg.Kafka, a.Credentials, log)
		a.onClose(func(context.Context) error { return a.Revocations.Close() })
	}

	checkers := map[string]handlers.HealthChecker{"database": a.DB}
	if a.Redis != nil {
		checkers["redis"] = a.Redis
	}
	a.HTTP = httpapi.NewRouter(cfg, log, a.Credentials, a.Metrics, a.Limiter, checkers)
	a.GRPC, a.GRPCHealth = grpcapi.NewServer(a.Credentials, a.Limiter, log)

	return nil
}

// envelopeCipher resolves the key-encryption secret and builds the cipher
// sealing private keys at rest.
func (a *App) envelopeCipher(ctx context.Context) (*crypto.EnvelopeCipher, error) {
	var source crypto.SecretSource
	if a.Config.Vault.Enabled {
		client, err := kms.NewVaultClient(a.Config.Vault)
		if err != nil {
			return nil, err
		}
		source = kms.NewVaultSecretSource(a.Config.Vault, client, a.Metrics, a.Logger)
	}

	secret, _, err := crypto.ResolveKeyEncryptionSecret(ctx, source, a.Config.Crypto.KeyEncryptionSecret,
		a.Config.App.IsProduction(), a.Logger)
	if err != nil {
		return nil, err
	}
	cipher, err := crypto.NewEnvelopeCipher(secret, constants.CipherID(a.Config.Crypto.Cipher))
	if err != nil {
		return nil, fmt.Errorf("init envelope cipher: %w", err)
	}
	return cipher, nil
}

// jwksPublisher returns the configured CDN origin publisher, or nil when
// mirroring is disabled.
func (a *App) jwksPublisher(ctx context.Context) (service.JWKSPublisher, error) {
	cfg := a.Config.CDN
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Provider == "log" {
		return cdn.NewLogPublisher(a.Logger), nil
	}
	pub, err := cdn.NewS3Publisher(ctx, cfg, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("init jwks publisher: %w", err)
	}
	return pub, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Run serves HTTP and gRPC and runs the sweeper until ctx is cancelled, then
// shuts down within the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.Config.Server.GRPCAddr())
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.HTTP.Start)

	g.Go(func() error {
		a.Logger.Info(gctx, "Starting gRPC server", logger.String("address", lis.Addr().String()))
		if err := a.GRPC.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve grpc: %w", err)
		}
		return nil
	})

	if interval := a.Config.Sweeper.Interval; interval > 0 {
		g.Go(func() error { return a.Sweeper.Run(gctx, interval) })
	}

	if a.Revocations != nil {
		g.Go(func() error { return a.Revocations.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

func (a *App) shutdown() error {
	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.GRPCHealth.SetServingStatus(grpcapi.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	stopped := make(chan struct{})
	go func() {
		a.GRPC.GracefulStop()
		close(stopped)
	}()
	httpErr := a.HTTP.Stop(ctx)

	select {
	case <-stopped:
	case <-ctx.Done():
		a.GRPC.Stop()
	}
	return httpErr
}

// Close releases every component in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
