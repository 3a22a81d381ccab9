package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/turtacn/credcore/internal/domain/models"
)

type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) LogEvent(ctx context.Context, event models.AuditEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// RecordingAuditService keeps every event in memory.
type RecordingAuditService struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (r *RecordingAuditService) LogEvent(_ context.Context, event models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *RecordingAuditService) Events() []models.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}
