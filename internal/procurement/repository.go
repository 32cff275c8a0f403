package procurement

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
	"github.com/shopspring/decimal"

	"github.com/billiard-pos/billiard-pos/internal/inventory"
	"github.com/billiard-pos/billiard-pos/internal/platform/db"
	"github.com/billiard-pos/billiard-pos/internal/shared"
)

var dialect = goqu.Dialect("postgres")

const (
	poColumns = `id, po_number, supplier_id, order_date, expected_delivery_date, status, notes, created_by,
		created_at, updated_at`
	itemColumns = `id, po_id, product_id, variant_id, quantity_ordered, quantity_received, unit_cost, tax_rate, notes`
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool        *pgxpool.Pool
	idempotency *shared.IdempotencyStore
	lockTimeout time.Duration
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, idempotency *shared.IdempotencyStore, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, idempotency: idempotency, lockTimeout: lockTimeout}
}

// WithTx wraps callback in a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, db.TxOptions{LockTimeout: r.lockTimeout}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, idempotency: r.idempotency})
	})
}

// GetPO returns purchase order and lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanPO(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Items, err = listItems(ctx, r.pool, id)
	return po, err
}

// ListPOs returns purchase order headers, newest first.
func (r *Repository) ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	page := shared.NormalizePage(filter.Limit, filter.Offset)
	ds := dialect.From("purchase_orders").Prepared(true).
		Select("id", "po_number", "supplier_id", "order_date", "expected_delivery_date", "status", "notes",
			"created_by", "created_at", "updated_at")
	if filter.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(filter.Status)))
	}
	if filter.SupplierID > 0 {
		ds = ds.Where(goqu.C("supplier_id").Eq(filter.SupplierID))
	}
	ds = ds.Order(goqu.C("order_date").Desc(), goqu.C("id").Desc()).
		Limit(uint(page.Limit)).Offset(uint(page.Offset))

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("procurement: build list query: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

// History returns status changes, oldest first.
func (r *Repository) History(ctx context.Context, poID int64) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, po_id, status, notes, created_by, created_at
		FROM purchase_order_history WHERE po_id = $1 ORDER BY created_at, id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var (
			h      HistoryEntry
			status string
			notes  *string
		)
		if err := rows.Scan(&h.ID, &h.POID, &status, &notes, &h.CreatedBy, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Status = Status(status)
		h.Notes = deref(notes)
		out = append(out, h)
	}
	return out, rows.Err()
}

// FindIdempotent resolves a committed receipt key to its purchase order.
func (r *Repository) FindIdempotent(ctx context.Context, scope, key string) (int64, bool, error) {
	return poReference(r.idempotency.Lookup(ctx, scope, key))
}

type txRepo struct {
	tx          pgx.Tx
	idempotency *shared.IdempotencyStore
}

func (t *txRepo) Stock() inventory.Store {
	return inventory.NewTxStore(t.tx)
}

func (t *txRepo) InsertPO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders
		(po_number, supplier_id, order_date, expected_delivery_date, status, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+poColumns,
		po.PONumber, po.SupplierID, po.OrderDate, po.ExpectedDeliveryDate, string(po.Status), nullString(po.Notes), po.CreatedBy)
	created, err := scanPO(row)
	if db.IsUniqueViolation(err) {
		return PurchaseOrder{}, shared.ValidationError("procurement: po number %q already used", po.PONumber)
	}
	return created, err
}

func (t *txRepo) InsertItem(ctx context.Context, item Item) (Item, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO purchase_order_items
		(po_id, product_id, variant_id, quantity_ordered, quantity_received, unit_cost, tax_rate, notes)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7)
		RETURNING `+itemColumns,
		item.POID, item.ProductID, item.VariantID, item.QuantityOrdered, item.UnitCost, item.TaxRate, nullString(item.Notes))
	return scanItem(row)
}

func (t *txRepo) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPO(t.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) LockItem(ctx context.Context, poID, itemID int64) (Item, error) {
	item, err := scanItem(t.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM purchase_order_items
		WHERE id = $1 AND po_id = $2 FOR UPDATE`, itemID, poID))
	if errors.Is(err, ErrNotFound) {
		return Item{}, ErrItemNotFound
	}
	return item, err
}

func (t *txRepo) SetReceived(ctx context.Context, itemID int64, qty decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_order_items SET quantity_received = $2 WHERE id = $1`, itemID, qty)
	return err
}

func (t *txRepo) ListItems(ctx context.Context, poID int64) ([]Item, error) {
	return listItems(ctx, t.tx, poID)
}

func (t *txRepo) UpdateStatus(ctx context.Context, poID int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $2, updated_at = NOW() WHERE id = $1`, poID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) AppendHistory(ctx context.Context, entry HistoryEntry) (HistoryEntry, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_order_history (po_id, status, notes, created_by)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		entry.POID, string(entry.Status), nullString(entry.Notes), entry.CreatedBy,
	).Scan(&entry.ID, &entry.CreatedAt)
	return entry, err
}

func (t *txRepo) FindIdempotent(ctx context.Context, scope, key string) (int64, bool, error) {
	return poReference(t.idempotency.LookupWith(ctx, t.tx, scope, key))
}

func (t *txRepo) ClaimIdempotencyKey(ctx context.Context, scope, key, reference string) error {
	err := t.idempotency.Claim(ctx, t.tx, scope, key, reference)
	if db.IsUniqueViolation(err) {
		return shared.ErrIdempotencyConflict
	}
	return err
}

func poReference(ref string, ok bool, err error) (int64, bool, error) {
	if err != nil || !ok {
		return 0, false, err
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("procurement: idempotency reference %q: %w", ref, err)
	}
	return id, true, nil
}

func listItems(ctx context.Context, q shared.Querier, poID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM purchase_order_items WHERE po_id = $1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var (
		po     PurchaseOrder
		status string
		notes  *string
	)
	err := row.Scan(&po.ID, &po.PONumber, &po.SupplierID, &po.OrderDate, &po.ExpectedDeliveryDate, &status, &notes,
		&po.CreatedBy, &po.CreatedAt, &po.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrNotFound
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Status = Status(status)
	po.Notes = deref(notes)
	return po, nil
}

func scanItem(row pgx.Row) (Item, error) {
	var (
		it    Item
		notes *string
	)
	err := row.Scan(&it.ID, &it.POID, &it.ProductID, &it.VariantID, &it.QuantityOrdered, &it.QuantityReceived,
		&it.UnitCost, &it.TaxRate, &notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	it.Notes = deref(notes)
	return it, nil
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
