package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // register postgres dialect
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billiard-pos/billiard-pos/internal/inventory"
	"github.com/billiard-pos/billiard-pos/internal/menu"
	"github.com/billiard-pos/billiard-pos/internal/platform/db"
	"github.com/billiard-pos/billiard-pos/internal/shared"
)

var dialect = goqu.Dialect("postgres")

const orderColumns = `id, table_id, location_id, user_id, status, notes, subtotal, discount_amount, discount_type,
	total_amount, completed_by, completed_at, cancelled_by, cancelled_at, cancellation_reason, created_at, updated_at`

// Repository persists orders in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	idempotency *shared.IdempotencyStore
	lockTimeout time.Duration
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, idempotency *shared.IdempotencyStore, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, idempotency: idempotency, lockTimeout: lockTimeout}
}

// WithTx runs fn inside one read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, db.TxOptions{LockTimeout: r.lockTimeout}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, idempotency: r.idempotency})
	})
}

// GetOrder loads an order and its items.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	return loadOrder(ctx, r.pool, id, false)
}

// ListOrders returns orders without items, newest first.
func (r *Repository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	page := shared.NormalizePage(filter.Limit, filter.Offset)
	ds := dialect.From("orders").Prepared(true).
		Select("id", "table_id", "location_id", "user_id", "status", "notes", "subtotal", "discount_amount",
			"discount_type", "total_amount", "completed_by", "completed_at", "cancelled_by", "cancelled_at",
			"cancellation_reason", "created_at", "updated_at")
	if filter.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(filter.Status)))
	}
	if filter.TableID != nil {
		ds = ds.Where(goqu.C("table_id").Eq(*filter.TableID))
	}
	ds = ds.Order(goqu.C("created_at").Desc(), goqu.C("id").Desc()).
		Limit(uint(page.Limit)).Offset(uint(page.Offset))

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("orders: build list query: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

// FindIdempotent resolves a committed idempotency key to an order id.
func (r *Repository) FindIdempotent(ctx context.Context, scope, key string) (int64, bool, error) {
	return orderReference(r.idempotency.Lookup(ctx, scope, key))
}

type txRepo struct {
	tx          pgx.Tx
	idempotency *shared.IdempotencyStore
}

func (t *txRepo) Stock() inventory.Store {
	return inventory.NewTxStore(t.tx)
}

func (t *txRepo) MappingsForItems(ctx context.Context, menuItemIDs []int64) (map[int64][]menu.Mapping, error) {
	return menu.NewReader(t.tx).GetMappingsForItems(ctx, menuItemIDs)
}

func (t *txRepo) InsertOrder(ctx context.Context, order Order) (Order, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO orders
		(table_id, location_id, user_id, status, notes, subtotal, discount_amount, discount_type, total_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+orderColumns,
		order.TableID, order.LocationID, order.UserID, string(order.Status), nullString(order.Notes),
		order.Subtotal, order.DiscountAmount, nullString(string(order.DiscountType)), order.TotalAmount)
	return scanOrder(row)
}

func (t *txRepo) InsertItem(ctx context.Context, item Item) (Item, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO order_items (order_id, menu_item_id, quantity, unit_price, notes, total_amount)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		item.OrderID, item.MenuItemID, item.Quantity, item.UnitPrice, nullString(item.Notes), item.TotalAmount,
	).Scan(&item.ID)
	return item, err
}

func (t *txRepo) LockOrder(ctx context.Context, id int64) (Order, error) {
	return loadOrder(ctx, t.tx, id, true)
}

func (t *txRepo) UpdateStatus(ctx context.Context, order Order) (Order, error) {
	row := t.tx.QueryRow(ctx, `UPDATE orders
		SET status = $2, completed_by = $3, completed_at = $4, cancelled_by = $5, cancelled_at = $6,
		    cancellation_reason = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING `+orderColumns,
		order.ID, string(order.Status), order.CompletedBy, order.CompletedAt, order.CancelledBy, order.CancelledAt,
		nullString(order.CancellationReason))
	updated, err := scanOrder(row)
	if err != nil {
		return Order{}, err
	}
	updated.Items = order.Items
	return updated, nil
}

func (t *txRepo) FindIdempotent(ctx context.Context, scope, key string) (int64, bool, error) {
	return orderReference(t.idempotency.LookupWith(ctx, t.tx, scope, key))
}

func (t *txRepo) ClaimIdempotencyKey(ctx context.Context, scope, key, reference string) error {
	err := t.idempotency.Claim(ctx, t.tx, scope, key, reference)
	if db.IsUniqueViolation(err) {
		return shared.ErrIdempotencyConflict
	}
	return err
}

func orderReference(ref string, ok bool, err error) (int64, bool, error) {
	if err != nil || !ok {
		return 0, false, err
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("orders: idempotency reference %q: %w", ref, err)
	}
	return id, true, nil
}

func loadOrder(ctx context.Context, q shared.Querier, id int64, lock bool) (Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		return Order{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, order_id, menu_item_id, quantity, unit_price, notes, total_amount
		FROM order_items WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it    Item
			notes *string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.Quantity, &it.UnitPrice, &notes, &it.TotalAmount); err != nil {
			return Order{}, err
		}
		it.Notes = deref(notes)
		order.Items = append(order.Items, it)
	}
	return order, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o            Order
		status       string
		notes        *string
		discountType *string
		reason       *string
	)
	err := row.Scan(&o.ID, &o.TableID, &o.LocationID, &o.UserID, &status, &notes, &o.Subtotal, &o.DiscountAmount,
		&discountType, &o.TotalAmount, &o.CompletedBy, &o.CompletedAt, &o.CancelledBy, &o.CancelledAt, &reason,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	o.Notes = deref(notes)
	o.DiscountType = DiscountType(deref(discountType))
	o.CancellationReason = deref(reason)
	return o, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
