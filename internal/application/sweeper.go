package application

import (
	"context"
	"time"

	"github.com/turtacn/credcore/internal/domain/repository"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/pkg/logger"
)

// SweepResult reports what one hygiene pass changed.
type SweepResult struct {
	SessionsDeleted int64 `json:"sessions_deleted"`
	KeysRevoked     int64 `json:"keys_revoked"`
}

// Sweeper deletes dead sessions and revokes retiring keys whose grace period
// has elapsed. Neither affects correctness: expired sessions and keys are
// already rejected by the services.
// Sweeper 删除失效会话并撤销宽限期已过的退役密钥。
type Sweeper struct {
	keys     repository.KeyRepository
	sessions repository.SessionRepository
	clock    service.Clock
	metrics  service.Metrics
	logger   logger.Logger
}

// NewSweeper creates a new Sweeper.
func NewSweeper(keys repository.KeyRepository, sessions repository.SessionRepository, clock service.Clock, metrics service.Metrics, log logger.Logger) *Sweeper {
	if clock == nil {
		clock = service.SystemClock{}
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &Sweeper{
		keys:     keys,
		sessions: sessions,
		clock:    clock,
		metrics:  metrics,
		logger:   log.WithComponent("Sweeper"),
	}
}

// Sweep runs one pass at the current time.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	now := s.clock.Now()

	revoked, err := s.keys.RevokeExpiredRetiring(ctx, now)
	if err != nil {
		s.logger.Error(ctx, "Failed to revoke expired retiring keys", err)
		return nil, err
	}
	deleted, err := s.sessions.DeleteStale(ctx, now)
	if err != nil {
		s.logger.Error(ctx, "Failed to delete stale sessions", err)
		return &SweepResult{KeysRevoked: revoked}, err
	}

	s.metrics.RecordSweep(deleted, revoked)
	s.logger.Info(ctx, "Sweep completed",
		logger.Int64("sessions_deleted", deleted),
		logger.Int64("keys_revoked", revoked),
	)
	return &SweepResult{SessionsDeleted: deleted, KeysRevoked: revoked}, nil
}

// Run sweeps every interval until ctx is done. A failed pass is logged and
// retried on the next tick.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "Sweeper started", logger.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(context.Background(), "Sweeper stopped")
			return nil
		case <-ticker.C:
			_, _ = s.Sweep(ctx)
		}
	}
}
