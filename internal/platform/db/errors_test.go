package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/billiard-pos/billiard-pos/internal/shared"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("claim key: %w", &pgconn.PgError{Code: "23505", ConstraintName: "idempotency_keys_scope_key_key"})
	require.True(t, IsUniqueViolation(dup))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23514"}))
	require.False(t, IsUniqueViolation(errors.New("23505")))
	require.False(t, IsUniqueViolation(nil))
}

func TestClassify(t *testing.T) {
	lock := Classify(&pgconn.PgError{Code: "55P03"})
	require.ErrorIs(t, lock, shared.ErrUnavailable)
	require.True(t, IsRetryable(lock))

	for _, code := range []string{"40001", "40P01"} {
		err := Classify(&pgconn.PgError{Code: code})
		require.ErrorIs(t, err, shared.ErrUnavailable, code)
	}

	dup := &pgconn.PgError{Code: "23505"}
	require.Same(t, dup, Classify(dup))
	require.NoError(t, Classify(nil))
}
