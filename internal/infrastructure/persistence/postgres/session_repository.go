package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/repository"
	"github.com/turtacn/credcore/internal/domain/service"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// SessionRepository implements repository.SessionRepository with gorm.
type SessionRepository struct {
	db      *gorm.DB
	metrics service.Metrics
	logger  logger.Logger
}

var _ repository.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *gorm.DB, metrics service.Metrics, log logger.Logger) *SessionRepository {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &SessionRepository{db: db, metrics: metrics, logger: log.WithComponent("SessionRepository")}
}

// Create inserts a new session row, creating the owner row on first use.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	defer r.observe("create_session", time.Now())

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureOwner(tx, session.Owner()); err != nil {
			return err
		}
		return tx.Create(session).Error
	})
	if err != nil {
		r.logger.Error(ctx, "Failed to create session", err,
			logger.String("owner", session.Owner().String()),
			logger.String("session_id", session.ID),
		)
		return classify("create_session", err)
	}
	return nil
}

// FindByFingerprint looks a session up by refresh token fingerprint within owner.
func (r *SessionRepository) FindByFingerprint(ctx context.Context, owner models.OwnerRef, fingerprint string) (*models.Session, error) {
	defer r.observe("find_session_by_fingerprint", time.Now())

	var session models.Session
	err := r.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ? AND token_fingerprint = ?", owner.Kind, owner.ID, fingerprint).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrSessionNotFound("refresh token")
		}
		return nil, classify("find_session_by_fingerprint", err)
	}
	return &session, nil
}

// FindByID returns a session within owner.
func (r *SessionRepository) FindByID(ctx context.Context, owner models.OwnerRef, id string) (*models.Session, error) {
	defer r.observe("find_session", time.Now())

	var session models.Session
	err := r.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ? AND id = ?", owner.Kind, owner.ID, id).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrSessionNotFound(id)
		}
		return nil, classify("find_session", err)
	}
	return &session, nil
}

// Rotate is the refresh compare-and-swap: the conditional update must affect
// exactly one row before the successor is inserted.
func (r *SessionRepository) Rotate(ctx context.Context, previousID string, next *models.Session, now time.Time) (bool, error) {
	defer r.observe("rotate_session", time.Now())

	swapped := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Session{}).
			Where("id = ? AND status = ?", previousID, constants.SessionStatusActive).
			Updates(map[string]interface{}{
				"status":      constants.SessionStatusRevoked,
				"revoked_at":  now,
				"replaced_by": next.ID,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return nil
		}
		if err := tx.Create(next).Error; err != nil {
			return err
		}
		swapped = true
		return nil
	})
	if err != nil {
		r.logger.Error(ctx, "Session rotation failed", err, logger.String("session_id", previousID))
		return false, classify("rotate_session", err)
	}
	return swapped, nil
}

// Revoke marks one session revoked. Revoking a revoked session is a no-op.
func (r *SessionRepository) Revoke(ctx context.Context, owner models.OwnerRef, id string, now time.Time) (bool, error) {
	defer r.observe("revoke_session", time.Now())

	result := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("owner_kind = ? AND owner_id = ? AND id = ? AND status = ?", owner.Kind, owner.ID, id, constants.SessionStatusActive).
		Updates(map[string]interface{}{
			"status":     constants.SessionStatusRevoked,
			"revoked_at": now,
		})
	if result.Error != nil {
		return false, classify("revoke_session", result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// Nothing changed: either already revoked or unknown.
	if _, err := r.FindByID(ctx, owner, id); err != nil {
		return false, err
	}
	return false, nil
}

// RevokeAllForSubject revokes every active session of (owner, subject).
func (r *SessionRepository) RevokeAllForSubject(ctx context.Context, owner models.OwnerRef, subjectID string, now time.Time) (int64, error) {
	defer r.observe("revoke_subject_sessions", time.Now())

	result := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("owner_kind = ? AND owner_id = ? AND subject_id = ? AND status = ?",
			owner.Kind, owner.ID, subjectID, constants.SessionStatusActive).
		Updates(map[string]interface{}{
			"status":     constants.SessionStatusRevoked,
			"revoked_at": now,
		})
	if result.Error != nil {
		return 0, classify("revoke_subject_sessions", result.Error)
	}
	return result.RowsAffected, nil
}

// ListActive returns the active, unexpired sessions of (owner, subject), newest first.
func (r *SessionRepository) ListActive(ctx context.Context, owner models.OwnerRef, subjectID string, now time.Time) ([]*models.Session, error) {
	defer r.observe("list_active_sessions", time.Now())

	var sessions []*models.Session
	err := r.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ? AND subject_id = ? AND status = ?",
			owner.Kind, owner.ID, subjectID, constants.SessionStatusActive).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, classify("list_active_sessions", err)
	}

	out := sessions[:0]
	for _, s := range sessions {
		if !s.IsExpired(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

// DeleteStale removes sessions that are revoked or expired at now.
func (r *SessionRepository) DeleteStale(ctx context.Context, now time.Time) (int64, error) {
	defer r.observe("delete_stale_sessions", time.Now())

	result := r.db.WithContext(ctx).
		Where("status = ? OR expires_at <= ?", constants.SessionStatusRevoked, now).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, classify("delete_stale_sessions", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *SessionRepository) observe(op string, start time.Time) {
	r.metrics.RecordDBQuery(op, time.Since(start))
}
