package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/credcore/pkg/logger"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker is a dependency that can report its health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (map[string]interface{}, error)
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	checkers map[string]HealthChecker
	log      logger.Logger
}

// NewHealthHandler creates a new HealthHandler over named dependencies.
func NewHealthHandler(checkers map[string]HealthChecker, log logger.Logger) *HealthHandler {
	return &HealthHandler{checkers: checkers, log: log.WithComponent("HealthHandler")}
}

// HealthCheck handles GET /healthz. It answers 503 when any dependency fails.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	checks := h.performChecks(ctx)

	status, httpStatus := "healthy", http.StatusOK
	for _, check := range checks {
		if check["status"] != "ok" {
			status, httpStatus = "unhealthy", http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

// LivenessCheck handles GET /livez and never touches dependencies.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (h *HealthHandler) performChecks(ctx context.Context) map[string]map[string]interface{} {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		checks = make(map[string]map[string]interface{}, len(h.checkers))
	)

	for name, checker := range h.checkers {
		wg.Add(1)
		go func(name string, checker HealthChecker) {
			defer wg.Done()
			details, err := checker.HealthCheck(ctx)
			if details == nil {
				details = map[string]interface{}{}
			}
			details["status"] = "ok"
			if err != nil {
				details["status"] = "error"
				details["error"] = err.Error()
				h.log.Warn(ctx, "Health check failed", logger.String("dependency", name), logger.Err(err))
			}
			mu.Lock()
			checks[name] = details
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()
	return checks
}
