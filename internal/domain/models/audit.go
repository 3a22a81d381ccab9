package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/turtacn/credcore/pkg/constants"
)

// AuditEvent represents a single credential lifecycle event.
type AuditEvent struct {
	EventID   string                   `json:"event_id"`
	EventType constants.AuditEventType `json:"event_type"`
	Owner     OwnerRef                 `json:"owner"`
	SubjectID string                   `json:"subject_id,omitempty"`
	KeyID     string                   `json:"kid,omitempty"`
	SessionID string                   `json:"session_id,omitempty"`
	Result    string                   `json:"result"`
	Message   string                   `json:"message,omitempty"`
	TraceID   string                   `json:"trace_id,omitempty"`
	Metadata  map[string]interface{}   `json:"metadata,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// NewAuditEvent creates a new audit event stamped at ts.
func NewAuditEvent(owner OwnerRef, eventType constants.AuditEventType, result string, ts time.Time) *AuditEvent {
	return &AuditEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Owner:     owner,
		Result:    result,
		Timestamp: ts.UTC(),
	}
}

// WithSubject sets the subject of the event.
func (a *AuditEvent) WithSubject(subjectID string) *AuditEvent {
	a.SubjectID = subjectID
	return a
}

// WithKey sets the key id of the event.
func (a *AuditEvent) WithKey(kid string) *AuditEvent {
	a.KeyID = kid
	return a
}

// WithSession sets the session id of the event.
func (a *AuditEvent) WithSession(sessionID string) *AuditEvent {
	a.SessionID = sessionID
	return a
}

// WithMessage sets a human readable message.
func (a *AuditEvent) WithMessage(msg string) *AuditEvent {
	a.Message = msg
	return a
}

// WithMetadata adds a metadata entry.
func (a *AuditEvent) WithMetadata(key string, value interface{}) *AuditEvent {
	if a.Metadata == nil {
		a.Metadata = make(map[string]interface{})
	}
	a.Metadata[key] = value
	return a
}

// PartitionKey keeps the events of one owner ordered.
func (a *AuditEvent) PartitionKey() string {
	return a.Owner.String()
}
