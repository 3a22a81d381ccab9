package repository

import (
	"context"
	"time"

	"github.com/turtacn/credcore/internal/domain/models"
)

// SessionRepository defines the interface for refresh-token session persistence.
type SessionRepository interface {
	// Create inserts a new session row.
	Create(ctx context.Context, session *models.Session) error
	// FindByFingerprint looks a session up by refresh token fingerprint, scoped to owner.
	// It returns SessionNotFound if there is no such row.
	FindByFingerprint(ctx context.Context, owner models.OwnerRef, fingerprint string) (*models.Session, error)
	// FindByID returns the session scoped to owner, or SessionNotFound.
	FindByID(ctx context.Context, owner models.OwnerRef, id string) (*models.Session, error)
	// Rotate revokes the active session previousID and inserts next in one
	// transaction. It returns false, without inserting, when previousID was
	// no longer active.
	Rotate(ctx context.Context, previousID string, next *models.Session, now time.Time) (bool, error)
	// Revoke marks one session revoked. It reports whether the row changed.
	Revoke(ctx context.Context, owner models.OwnerRef, id string, now time.Time) (bool, error)
	// RevokeAllForSubject revokes every active session of (owner, subject).
	RevokeAllForSubject(ctx context.Context, owner models.OwnerRef, subjectID string, now time.Time) (int64, error)
	// ListActive returns the active, unexpired sessions of (owner, subject).
	ListActive(ctx context.Context, owner models.OwnerRef, subjectID string, now time.Time) ([]*models.Session, error)
	// DeleteStale removes sessions that are revoked or expired at now.
	DeleteStale(ctx context.Context, now time.Time) (int64, error)
}
