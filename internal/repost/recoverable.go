package repost

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes treated as transient.
const (
	pgDeadlockDetected   = "40P01"
	pgLockNotAvailable   = "55P03"
	pgQueryCanceled      = "57014"
	pgSerializationError = "40001"
)

// IsRecoverable reports whether err is a transient infrastructure failure.
// Such jobs stay queued for the next sweep instead of being marked Failed.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrLockNotObtained) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgDeadlockDetected, pgLockNotAvailable, pgQueryCanceled, pgSerializationError:
			return true
		}
	}
	return false
}
