package cdn

import (
	"context"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/logger"
)

// LogPublisher is a no-op JWKSPublisher for development. It logs the writes
// an origin bucket would receive without taking action.
type LogPublisher struct {
	logger logger.Logger
}

// NewLogPublisher creates a new LogPublisher.
func NewLogPublisher(log logger.Logger) *LogPublisher {
	return &LogPublisher{logger: log.WithComponent("LogJWKSPublisher")}
}

// Publish logs the document that would be written.
func (p *LogPublisher) Publish(ctx context.Context, owner models.OwnerRef, jwks *models.JWKS) error {
	p.logger.Info(ctx, "JWKS publish skipped",
		logger.String("path", JWKSPath(owner)), logger.Int("keys", len(jwks.Keys)))
	return nil
}

// Remove logs the document that would be deleted.
func (p *LogPublisher) Remove(ctx context.Context, owner models.OwnerRef) error {
	p.logger.Info(ctx, "JWKS removal skipped", logger.String("path", JWKSPath(owner)))
	return nil
}
