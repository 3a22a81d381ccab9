package postgres

import (
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/turtacn/credcore/pkg/errors"
)

// SQLSTATE codes of integrity constraint violations.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// classify converts a driver error into ConstraintViolation or StoreUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsCBCError(err); ok {
		return err
	}
	if isConstraintViolation(err) {
		return errors.ErrConstraintViolation(op, err)
	}
	return errors.ErrStoreUnavailable(op, err)
}

func isConstraintViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgForeignKeyViolation, pgCheckViolation:
			return true
		}
	}
	return false
}
