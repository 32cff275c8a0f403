package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // register postgres dialect

	"github.com/billiard-pos/billiard-pos/internal/shared"
)

var dialect = goqu.Dialect("postgres")

// PGRepository reads audit_logs from PostgreSQL.
type PGRepository struct {
	q shared.Querier
}

// NewRepository constructs PGRepository.
func NewRepository(q shared.Querier) *PGRepository {
	return &PGRepository{q: q}
}

// Window runs one filtered slice of the timeline, newest first.
func (r *PGRepository) Window(ctx context.Context, wq WindowQuery) ([]TimelineRow, error) {
	ds := dialect.From("audit_logs").Prepared(true).
		Select("id", "occurred_at", "actor_id", "action", "entity", "entity_id", "meta")
	if !wq.From.IsZero() {
		ds = ds.Where(goqu.C("occurred_at").Gte(wq.From))
	}
	if !wq.To.IsZero() {
		ds = ds.Where(goqu.C("occurred_at").Lt(wq.To))
	}
	if wq.ActorID > 0 {
		ds = ds.Where(goqu.C("actor_id").Eq(wq.ActorID))
	}
	if wq.Entity != "" {
		ds = ds.Where(goqu.C("entity").Eq(wq.Entity))
	}
	if wq.EntityID != "" {
		ds = ds.Where(goqu.C("entity_id").Eq(wq.EntityID))
	}
	if wq.Action != "" {
		ds = ds.Where(goqu.C("action").Eq(wq.Action))
	}
	ds = ds.Order(goqu.C("occurred_at").Desc(), goqu.C("id").Desc())
	if wq.Limit > 0 {
		ds = ds.Limit(uint(wq.Limit))
	}
	if wq.Offset > 0 {
		ds = ds.Offset(uint(wq.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("audit: build window query: %w", err)
	}
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var (
			row  TimelineRow
			meta []byte
		)
		if err := rows.Scan(&row.ID, &row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &row.Meta); err != nil {
				return nil, fmt.Errorf("audit: decode meta of %d: %w", row.ID, err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
