package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/kislikjeka/fundflow/internal/shared/errors"
)

// PostgreSQL error codes the repositories translate
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// pgError returns the server error in err's chain, if any
func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// violatedConstraint returns the constraint name when err is a violation of the given class
func violatedConstraint(err error, code string) (string, bool) {
	pgErr, ok := pgError(err)
	if !ok || pgErr.Code != code {
		return "", false
	}
	return pgErr.ConstraintName, true
}

// storageError classifies an error no repository mapped to a domain error.
// Everything unmapped is a storage failure the caller may retry.
func storageError(message string, err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	if pgErr, ok := pgError(err); ok {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return apperrors.StorageFailure(message+": concurrent update, retry", err)
		case pgLockNotAvailable:
			return apperrors.StorageFailure(message+": wallet busy, retry", err)
		}
	}
	return apperrors.StorageFailure(message, err)
}
