package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/billiard-pos/billiard-pos/internal/shared"
)

// Postgres SQLSTATE codes that indicate a retryable contention failure.
const (
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

var (
	// ErrLockTimeout is returned when a row lock could not be acquired in time.
	ErrLockTimeout = shared.NewCodedError(shared.ErrUnavailable, "lock_timeout", "timed out waiting for a row lock, retry the request")
	// ErrSerialization is returned on serialization failures and deadlocks.
	ErrSerialization = shared.NewCodedError(shared.ErrUnavailable, "transaction_conflict", "concurrent update detected, retry the request")
)

// Classify maps retryable Postgres failures onto shared error kinds and leaves
// everything else untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable:
		return &shared.CodedError{Kind: shared.ErrUnavailable, Code: ErrLockTimeout.Code, Message: ErrLockTimeout.Message, Err: err}
	case codeSerializationFailure, codeDeadlockDetected:
		return &shared.CodedError{Kind: shared.ErrUnavailable, Code: ErrSerialization.Code, Message: ErrSerialization.Message, Err: err}
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// IsRetryable reports whether the caller may retry the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, shared.ErrUnavailable)
}
