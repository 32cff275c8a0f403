package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyHeader carries the client supplied request key.
const IdempotencyHeader = "Idempotency-Key"

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IdempotencyStore persists processed keys together with the resource they produced.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Lookup returns the reference recorded for a committed key.
func (s *IdempotencyStore) Lookup(ctx context.Context, scope, key string) (string, bool, error) {
	if s == nil {
		return "", false, nil
	}
	return s.LookupWith(ctx, s.pool, scope, key)
}

// LookupWith is Lookup on an explicit querier, typically an open transaction
// that already holds the row lock of the keyed resource.
func (s *IdempotencyStore) LookupWith(ctx context.Context, q Querier, scope, key string) (string, bool, error) {
	if s == nil || key == "" {
		return "", false, nil
	}
	var reference string
	err := q.QueryRow(ctx, `SELECT reference FROM idempotency_keys WHERE scope = $1 AND key = $2`, scope, key).Scan(&reference)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return reference, true, nil
}

// Claim records the key inside the caller's transaction so it commits or rolls
// back with the effects. A key claimed concurrently surfaces as the driver's
// unique violation; repositories translate it to ErrIdempotencyConflict.
func (s *IdempotencyStore) Claim(ctx context.Context, q Querier, scope, key, reference string) error {
	if key == "" {
		return nil
	}
	if scope == "" {
		return errors.New("idempotency scope required")
	}
	_, err := q.Exec(ctx, `INSERT INTO idempotency_keys (scope, key, reference, created_at) VALUES ($1, $2, $3, $4)`, scope, key, reference, time.Now().UTC())
	return err
}

// Cleanup removes entries older than retention and reports how many were purged.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
