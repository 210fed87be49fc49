package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the catalog cares about.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// RetryableError marks a transaction failure that can be retried as a whole.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string   { return e.Err.Error() }
func (e *RetryableError) Unwrap() error   { return e.Err }
func (e *RetryableError) Retryable() bool { return true }

// classify wraps serialization failures, deadlocks, and insert races so the
// reconciler retries the chunk. A retried chunk finds the row the other
// writer committed and updates it instead. Other errors pass through
// unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if hasPGCode(err, codeSerializationFailure) || hasPGCode(err, codeDeadlockDetected) || IsUniqueViolation(err) {
		return &RetryableError{Err: err}
	}
	return err
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return hasPGCode(err, codeUniqueViolation)
}
