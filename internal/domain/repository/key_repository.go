package repository

import (
	"context"
	"time"

	"github.com/turtacn/credcore/internal/domain/models"
)

// OwnerRepository defines the interface for owner persistence.
type OwnerRepository interface {
	// Ensure creates the owner row if it does not exist yet.
	Ensure(ctx context.Context, owner models.OwnerRef) error
	// Get returns the owner row, or InvalidArgument if it is unknown.
	Get(ctx context.Context, owner models.OwnerRef) (*models.Owner, error)
	// Delete removes the owner together with its keys and sessions.
	Delete(ctx context.Context, owner models.OwnerRef) error
}

// KeyRepository defines the interface for key pair persistence.
// Every write that touches the active key runs in one transaction under a
// lock on the owner row.
type KeyRepository interface {
	// Insert stores the first active key of an owner.
	// It fails with KeyAlreadyActive if the owner already has one.
	Insert(ctx context.Context, key *models.KeyPair) error
	// Rotate retires the current active key (revoked, or retiring until
	// verifyUntil when it is non-nil) and inserts next as the new active key.
	// The previous key is returned, or nil if the owner had none.
	Rotate(ctx context.Context, next *models.KeyPair, now time.Time, verifyUntil *time.Time) (*models.KeyPair, error)
	// FindActive returns the active key or NoActiveKey.
	FindActive(ctx context.Context, owner models.OwnerRef) (*models.KeyPair, error)
	// FindVerifiable returns the key if it belongs to owner and is verifiable
	// at now, otherwise UnknownKid.
	FindVerifiable(ctx context.Context, owner models.OwnerRef, kid string, now time.Time) (*models.KeyPair, error)
	// ListVerifiable returns the keys published in the owner's JWKS at now.
	ListVerifiable(ctx context.Context, owner models.OwnerRef, now time.Time) ([]*models.KeyPair, error)
	// ListByOwner returns every key of the owner, newest first.
	ListByOwner(ctx context.Context, owner models.OwnerRef) ([]*models.KeyPair, error)
	// RevokeExpiredRetiring moves retiring keys whose grace elapsed to revoked.
	RevokeExpiredRetiring(ctx context.Context, now time.Time) (int64, error)
}
