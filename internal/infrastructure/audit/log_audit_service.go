package audit

import (
	"context"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/logger"
)

// LogAuditService writes audit events to the structured log.
type LogAuditService struct {
	logger logger.Logger
}

var _ service.AuditService = (*LogAuditService)(nil)

// NewLogAuditService creates a log-backed audit sink.
func NewLogAuditService(log logger.Logger) *LogAuditService {
	return &LogAuditService{logger: log.WithComponent("audit")}
}

// LogEvent records the event at info level, or warn level for failures.
func (s *LogAuditService) LogEvent(ctx context.Context, event models.AuditEvent) error {
	fields := []logger.Field{
		logger.String("event_id", event.EventID),
		logger.String("event_type", string(event.EventType)),
		logger.String("owner", event.Owner.String()),
		logger.String("result", event.Result),
		logger.Time("timestamp", event.Timestamp),
	}
	if event.SubjectID != "" {
		fields = append(fields, logger.String("subject_id", event.SubjectID))
	}
	if event.KeyID != "" {
		fields = append(fields, logger.String("kid", event.KeyID))
	}
	if event.SessionID != "" {
		fields = append(fields, logger.String("session_id", event.SessionID))
	}
	for k, v := range event.Metadata {
		fields = append(fields, logger.Any("meta_"+k, v))
	}

	msg := "audit: " + string(event.EventType)
	if event.Message != "" {
		msg += ": " + event.Message
	}
	if event.Result == constants.AuditResultFailure {
		s.logger.Warn(ctx, msg, fields...)
		return nil
	}
	s.logger.Info(ctx, msg, fields...)
	return nil
}
