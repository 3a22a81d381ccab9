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

// KeyRepository implements repository.KeyRepository with gorm.
type KeyRepository struct {
	db      *gorm.DB
	metrics service.Metrics
	logger  logger.Logger
}

var _ repository.KeyRepository = (*KeyRepository)(nil)

// NewKeyRepository creates a new key pair repository.
func NewKeyRepository(db *gorm.DB, metrics service.Metrics, log logger.Logger) *KeyRepository {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &KeyRepository{db: db, metrics: metrics, logger: log.WithComponent("KeyRepository")}
}

// Insert stores the first active key of an owner under the owner lock.
func (r *KeyRepository) Insert(ctx context.Context, key *models.KeyPair) error {
	defer r.observe("insert_key", time.Now())
	owner := key.Owner()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureOwner(tx, owner); err != nil {
			return err
		}
		if err := lockOwner(tx, owner); err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&models.KeyPair{}).
			Where("owner_kind = ? AND owner_id = ? AND status = ?", owner.Kind, owner.ID, constants.KeyStatusActive).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return errors.ErrKeyAlreadyActive(owner.String())
		}
		return tx.Create(key).Error
	})
	if err != nil {
		if isConstraintViolation(err) {
			// Lost the race on the one-active-key index.
			return errors.ErrKeyAlreadyActive(owner.String()).WithCause(err)
		}
		return classify("insert_key", err)
	}

	r.logger.Info(ctx, "Key pair inserted",
		logger.String("owner", owner.String()),
		logger.String("kid", key.Kid),
		logger.String("algorithm", string(key.Algorithm)),
	)
	return nil
}

// Rotate retires the active key and inserts next in one transaction.
func (r *KeyRepository) Rotate(ctx context.Context, next *models.KeyPair, now time.Time, verifyUntil *time.Time) (*models.KeyPair, error) {
	defer r.observe("rotate_key", time.Now())
	owner := next.Owner()

	var previous *models.KeyPair
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureOwner(tx, owner); err != nil {
			return err
		}
		if err := lockOwner(tx, owner); err != nil {
			return err
		}

		var current []*models.KeyPair
		if err := tx.Where("owner_kind = ? AND owner_id = ? AND status = ?", owner.Kind, owner.ID, constants.KeyStatusActive).
			Find(&current).Error; err != nil {
			return err
		}

		for _, k := range current {
			status := constants.KeyStatusRevoked
			if verifyUntil != nil {
				status = constants.KeyStatusRetiring
			}
			if err := tx.Model(&models.KeyPair{}).
				Where("id = ? AND status = ?", k.ID, constants.KeyStatusActive).
				Updates(map[string]interface{}{
					"status":       status,
					"revoked_at":   now,
					"verify_until": verifyUntil,
				}).Error; err != nil {
				return err
			}
			k.Status = status
			revokedAt := now
			k.RevokedAt = &revokedAt
			k.VerifyUntil = verifyUntil
			previous = k
		}

		return tx.Create(next).Error
	})
	if err != nil {
		r.logger.Error(ctx, "Key rotation failed", err, logger.String("owner", owner.String()))
		return nil, classify("rotate_key", err)
	}

	fields := []logger.Field{
		logger.String("owner", owner.String()),
		logger.String("kid", next.Kid),
	}
	if previous != nil {
		fields = append(fields,
			logger.String("previous_kid", previous.Kid),
			logger.String("previous_status", string(previous.Status)))
	}
	r.logger.Info(ctx, "Key pair rotated", fields...)
	return previous, nil
}

// FindActive returns the owner's active key.
func (r *KeyRepository) FindActive(ctx context.Context, owner models.OwnerRef) (*models.KeyPair, error) {
	defer r.observe("find_active_key", time.Now())

	var key models.KeyPair
	err := r.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ? AND status = ?", owner.Kind, owner.ID, constants.KeyStatusActive).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrNoActiveKey(owner.String())
		}
		return nil, classify("find_active_key", err)
	}
	return &key, nil
}

// FindVerifiable resolves kid within owner's scope only.
func (r *KeyRepository) FindVerifiable(ctx context.Context, owner models.OwnerRef, kid string, now time.Time) (*models.KeyPair, error) {
	defer r.observe("find_key_by_kid", time.Now())

	var key models.KeyPair
	err := r.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ? AND kid = ?", owner.Kind, owner.ID, kid).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrUnknownKid(owner.String(), kid)
		}
		return nil, classify("find_key_by_kid", err)
	}
	if !key.VerifiableAt(now) {
		return nil, errors.ErrUnknownKid(owner.String(), kid)
	}
	return &key, nil
}

// ListVerifiable returns the active key and any retiring key still within grace.
func (r *KeyRepository) ListVerifiable(ctx context.Context, owner models.OwnerRef, now time.Time) ([]*models.KeyPair, error) {
	defer r.observe("list_verifiable_keys", time.Now())

	var keys []*models.KeyPair
	err := r.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ? AND status IN ?", owner.Kind, owner.ID,
			[]constants.KeyStatus{constants.KeyStatusActive, constants.KeyStatusRetiring}).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, classify("list_verifiable_keys", err)
	}

	out := keys[:0]
	for _, k := range keys {
		if k.VerifiableAt(now) {
			out = append(out, k)
		}
	}
	return out, nil
}

// ListByOwner returns every key of the owner, newest first.
func (r *KeyRepository) ListByOwner(ctx context.Context, owner models.OwnerRef) ([]*models.KeyPair, error) {
	defer r.observe("list_keys", time.Now())

	var keys []*models.KeyPair
	err := r.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ?", owner.Kind, owner.ID).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, classify("list_keys", err)
	}
	return keys, nil
}

// RevokeExpiredRetiring moves retiring keys whose verify_until passed to revoked.
func (r *KeyRepository) RevokeExpiredRetiring(ctx context.Context, now time.Time) (int64, error) {
	defer r.observe("revoke_expired_retiring", time.Now())

	result := r.db.WithContext(ctx).
		Model(&models.KeyPair{}).
		Where("status = ? AND verify_until <= ?", constants.KeyStatusRetiring, now).
		Update("status", constants.KeyStatusRevoked)
	if result.Error != nil {
		return 0, classify("revoke_expired_retiring", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *KeyRepository) observe(op string, start time.Time) {
	r.metrics.RecordDBQuery(op, time.Since(start))
}
