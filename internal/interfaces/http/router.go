package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/turtacn/credcore/internal/application/dto"
	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/internal/infrastructure/monitoring"
	"github.com/turtacn/credcore/internal/interfaces/http/handlers"
	"github.com/turtacn/credcore/internal/interfaces/http/middleware"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/logger"
)

const tracerName = "github.com/turtacn/credcore/internal/interfaces/http"

// Router HTTP 路由器
type Router struct {
	engine         *gin.Engine
	config         *config.Config
	logger         logger.Logger
	creds          handlers.CredentialService
	metrics        *monitoring.Metrics
	limiter        service.RateLimiter
	healthHandler  *handlers.HealthHandler
	jwksHandler    *handlers.JWKSHandler
	keyHandler     *handlers.KeyHandler
	sessionHandler *handlers.SessionHandler
	server         *http.Server
}

// NewRouter 创建路由器. limiter may be nil to disable rate limiting.
func NewRouter(
	cfg *config.Config,
	log logger.Logger,
	creds handlers.CredentialService,
	metrics *monitoring.Metrics,
	limiter service.RateLimiter,
	checkers map[string]handlers.HealthChecker,
) *Router {
	// 设置 Gin 模式
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:         gin.New(),
		config:         cfg,
		logger:         log.WithComponent("HTTPRouter"),
		creds:          creds,
		metrics:        metrics,
		limiter:        limiter,
		healthHandler:  handlers.NewHealthHandler(checkers, log),
		jwksHandler:    handlers.NewJWKSHandler(creds, log),
		keyHandler:     handlers.NewKeyHandler(creds),
		sessionHandler: handlers.NewSessionHandler(creds),
	}
	r.setupRoutes()

	r.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r.engine,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return r
}

// Handler returns the configured engine.
func (r *Router) Handler() http.Handler {
	return r.engine
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 全局中间件
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.ObservabilityMiddleware(otel.Tracer(tracerName), r.metrics))
	r.engine.Use(middleware.Logger(r.logger))
	r.engine.Use(middleware.Recovery(r.logger))

	// CORS 配置
	r.engine.Use(cors.New(cors.Config{
		AllowAllOrigins: len(r.config.Server.AllowedOrigins) == 0,
		AllowOrigins:    r.config.Server.AllowedOrigins,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", dto.RequestIDHeader},
		ExposeHeaders:   []string{dto.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After", "ETag"},
		MaxAge:          12 * time.Hour,
	}))

	// 健康检查路由（不需要认证）
	r.engine.GET("/healthz", r.healthHandler.HealthCheck)
	r.engine.GET("/livez", r.healthHandler.LivenessCheck)
	r.engine.GET("/metrics", gin.WrapH(r.metrics.Handler()))

	if r.config.Server.EnablePprof {
		pprof.Register(r.engine)
	}

	owner := r.engine.Group("/v1/owners/:kind/:id", middleware.OwnerFromPath())
	owner.GET("/jwks.json", middleware.ETagCache(constants.JWKSLocalCacheTTL), r.jwksHandler.GetJWKS)

	// 密钥管理路由（运维令牌）
	keys := owner.Group("/keys", middleware.RequireAdminToken(r.config.Server.AdminToken))
	{
		keys.POST("", r.keyHandler.Provision)
		keys.POST("/rotate", r.keyHandler.Rotate)
		keys.GET("", r.keyHandler.List)
	}

	sessions := owner.Group("/sessions")
	if r.limiter != nil {
		sessions.Use(middleware.RateLimitMiddleware(r.limiter, r.logger))
	}
	{
		sessions.POST("", middleware.RequireAdminToken(r.config.Server.AdminToken), r.sessionHandler.Open)
		sessions.POST("/refresh", r.sessionHandler.Refresh)
		sessions.POST("/revoke", r.sessionHandler.Revoke)

		me := sessions.Group("/me", middleware.RequireBearer(r.creds, r.logger))
		me.GET("", r.sessionHandler.ListMine)
		me.DELETE("", r.sessionHandler.RevokeMine)
		me.DELETE("/:sid", r.sessionHandler.RevokeOne)
	}

	// 404 处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             string(constants.ErrCodeNotFound),
			"error_description": "The requested resource was not found",
		})
	})
}

// Start 启动 HTTP 服务器. It blocks until the server stops.
func (r *Router) Start() error {
	r.logger.Info(context.Background(), "Starting HTTP server", logger.String("address", r.server.Addr))
	if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止 HTTP 服务器
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info(ctx, "Stopping HTTP server")
	return r.server.Shutdown(ctx)
}
