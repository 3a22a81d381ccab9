package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/repository"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// OwnerRepository implements repository.OwnerRepository with gorm.
type OwnerRepository struct {
	db     *gorm.DB
	logger logger.Logger
}

var _ repository.OwnerRepository = (*OwnerRepository)(nil)

// NewOwnerRepository creates a new owner repository.
func NewOwnerRepository(db *gorm.DB, log logger.Logger) *OwnerRepository {
	return &OwnerRepository{db: db, logger: log.WithComponent("OwnerRepository")}
}

// Ensure creates the owner row if it does not exist yet.
func (r *OwnerRepository) Ensure(ctx context.Context, owner models.OwnerRef) error {
	return classify("ensure_owner", ensureOwner(r.db.WithContext(ctx), owner))
}

// Get returns the owner row.
func (r *OwnerRepository) Get(ctx context.Context, owner models.OwnerRef) (*models.Owner, error) {
	var row models.Owner
	err := r.db.WithContext(ctx).
		Where("kind = ? AND id = ?", owner.Kind, owner.ID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrInvalidArgument("owner", "unknown owner "+owner.String())
		}
		return nil, classify("get_owner", err)
	}
	return &row, nil
}

// Delete removes the owner; keys and sessions follow through ON DELETE CASCADE.
func (r *OwnerRepository) Delete(ctx context.Context, owner models.OwnerRef) error {
	result := r.db.WithContext(ctx).
		Where("kind = ? AND id = ?", owner.Kind, owner.ID).
		Delete(&models.Owner{})
	if result.Error != nil {
		r.logger.Error(ctx, "Failed to delete owner", result.Error, logger.String("owner", owner.String()))
		return classify("delete_owner", result.Error)
	}
	r.logger.Info(ctx, "Owner deleted",
		logger.String("owner", owner.String()),
		logger.Int64("rows", result.RowsAffected),
	)
	return nil
}

func ensureOwner(db *gorm.DB, owner models.OwnerRef) error {
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Owner{
		Kind:      owner.Kind,
		ID:        owner.ID,
		Issuer:    owner.Issuer(),
		CreatedAt: time.Now().UTC(),
	}).Error
}

// lockOwner takes the per-owner row lock that serialises key provisioning and
// rotation. SQLite has no row locks; its single writer connection serialises instead.
func lockOwner(tx *gorm.DB, owner models.OwnerRef) error {
	q := tx
	if tx.Dialector.Name() == DriverPostgres {
		q = tx.Clauses(clause.Locking{Strength: "NO KEY UPDATE"})
	}
	var row models.Owner
	return q.Where("kind = ? AND id = ?", owner.Kind, owner.ID).First(&row).Error
}
