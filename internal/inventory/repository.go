package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // register postgres dialect
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/billiard-pos/billiard-pos/internal/platform/db"
	"github.com/billiard-pos/billiard-pos/internal/shared"
)

var dialect = goqu.Dialect("postgres")

const recordColumns = `id, product_id, variant_id, location_id, quantity, last_counted_at, updated_at`

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

// WithTx executes the callback inside a read-committed transaction so that
// locking reads observe the latest committed quantity after a lock wait.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return db.WithTx(ctx, r.pool, db.TxOptions{LockTimeout: r.lockTimeout}, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// GetRecord reads a record without locking it.
func (r *Repository) GetRecord(ctx context.Context, key StockKey) (StockRecord, error) {
	return readRecord(ctx, r.pool, key, false)
}

// ListHistory returns transaction log rows, newest first.
func (r *Repository) ListHistory(ctx context.Context, filter HistoryFilter) ([]StockTransaction, error) {
	page := shared.NormalizePage(filter.Limit, filter.Offset)
	ds := dialect.From("inventory_transactions").Prepared(true).
		Select("id", "transaction_type", "reference_type", "reference_id", "product_id", "variant_id",
			"from_location_id", "to_location_id", "quantity", "unit_cost", "notes", "created_by", "created_at").
		Where(goqu.C("product_id").Eq(filter.ProductID))
	if filter.VariantID != nil {
		ds = ds.Where(goqu.C("variant_id").Eq(*filter.VariantID))
	}
	if filter.LocationID != nil {
		ds = ds.Where(goqu.Or(
			goqu.C("from_location_id").Eq(*filter.LocationID),
			goqu.C("to_location_id").Eq(*filter.LocationID),
		))
	}
	if filter.Type != "" {
		ds = ds.Where(goqu.C("transaction_type").Eq(string(filter.Type)))
	}
	ds = ds.Order(goqu.C("created_at").Desc(), goqu.C("id").Desc()).
		Limit(uint(page.Limit)).Offset(uint(page.Offset))

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("inventory: build history query: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StockTransaction
	for rows.Next() {
		var (
			txn      StockTransaction
			txType   string
			refType  *string
			refID    *string
			notes    *string
			unitCost decimal.NullDecimal
		)
		if err := rows.Scan(&txn.ID, &txType, &refType, &refID, &txn.ProductID, &txn.VariantID,
			&txn.FromLocationID, &txn.ToLocationID, &txn.Quantity, &unitCost, &notes, &txn.CreatedBy, &txn.CreatedAt); err != nil {
			return nil, err
		}
		txn.Type = TransactionType(txType)
		txn.ReferenceType = deref(refType)
		txn.ReferenceID = deref(refID)
		txn.Notes = deref(notes)
		if unitCost.Valid {
			txn.UnitCost = unitCost.Decimal
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

// ListLowStock returns records at or below threshold, or at or below the
// product minimum when threshold is nil.
func (r *Repository) ListLowStock(ctx context.Context, threshold *decimal.Decimal) ([]LowStockItem, error) {
	ds := dialect.From(goqu.T("inventory").As("i")).Prepared(true).
		Join(goqu.T("products").As("p"), goqu.On(goqu.I("p.id").Eq(goqu.I("i.product_id")))).
		Select("i.id", "i.product_id", "i.variant_id", "i.location_id", "i.quantity", "i.last_counted_at",
			"i.updated_at", "p.name", "p.min_stock_level")
	if threshold != nil {
		ds = ds.Where(goqu.I("i.quantity").Lte(threshold.String()))
	} else {
		ds = ds.Where(goqu.I("i.quantity").Lte(goqu.I("p.min_stock_level")))
	}
	ds = ds.Order(goqu.I("i.quantity").Asc(), goqu.I("i.id").Asc())

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("inventory: build low stock query: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LowStockItem
	for rows.Next() {
		var item LowStockItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.VariantID, &item.LocationID, &item.Quantity,
			&item.LastCountedAt, &item.UpdatedAt, &item.ProductName, &item.MinStockLevel); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

type txStore struct {
	q shared.Querier
}

// NewTxStore returns a Store that runs on the given transaction.
func NewTxStore(q shared.Querier) Store {
	return &txStore{q: q}
}

func (s *txStore) ReadRecord(ctx context.Context, key StockKey) (StockRecord, error) {
	return readRecord(ctx, s.q, key, false)
}

func (s *txStore) LockRecord(ctx context.Context, key StockKey) (StockRecord, error) {
	return readRecord(ctx, s.q, key, true)
}

func readRecord(ctx context.Context, q shared.Querier, key StockKey, lock bool) (StockRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM inventory
		WHERE product_id = $1 AND variant_id IS NOT DISTINCT FROM $2 AND location_id = $3`
	if lock {
		query += ` FOR UPDATE`
	}
	return scanRecord(q.QueryRow(ctx, query, key.ProductID, key.VariantID, key.LocationID))
}

func (s *txStore) CreateRecord(ctx context.Context, key StockKey) (StockRecord, error) {
	if _, err := s.q.Exec(ctx, `INSERT INTO inventory (product_id, variant_id, location_id, quantity)
		VALUES ($1, $2, $3, 0) ON CONFLICT DO NOTHING`, key.ProductID, key.VariantID, key.LocationID); err != nil {
		return StockRecord{}, err
	}
	return s.LockRecord(ctx, key)
}

func (s *txStore) SetQuantity(ctx context.Context, id int64, qty decimal.Decimal, countedAt *time.Time) (StockRecord, error) {
	row := s.q.QueryRow(ctx, `UPDATE inventory
		SET quantity = $2, last_counted_at = COALESCE($3, last_counted_at), updated_at = NOW()
		WHERE id = $1
		RETURNING `+recordColumns, id, qty, countedAt)
	return scanRecord(row)
}

func (s *txStore) AppendTransaction(ctx context.Context, txn StockTransaction) (StockTransaction, error) {
	err := s.q.QueryRow(ctx, `INSERT INTO inventory_transactions
		(transaction_type, reference_type, reference_id, product_id, variant_id, from_location_id, to_location_id,
		 quantity, unit_cost, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`,
		string(txn.Type), nullString(txn.ReferenceType), nullString(txn.ReferenceID), txn.ProductID, txn.VariantID,
		txn.FromLocationID, txn.ToLocationID, txn.Quantity, txn.UnitCost, nullString(txn.Notes), txn.CreatedBy,
	).Scan(&txn.ID, &txn.CreatedAt)
	return txn, err
}

func (s *txStore) UpdateProductCost(ctx context.Context, productID int64, variantID *int64, cost decimal.Decimal) error {
	if variantID != nil {
		_, err := s.q.Exec(ctx, `UPDATE product_variants SET cost_price = $2, updated_at = NOW() WHERE id = $1`, *variantID, cost)
		return err
	}
	_, err := s.q.Exec(ctx, `UPDATE products SET cost_price = $2, updated_at = NOW() WHERE id = $1`, productID, cost)
	return err
}

func (s *txStore) TransactionsByReference(ctx context.Context, refType, refID string, txType TransactionType) ([]StockTransaction, error) {
	rows, err := s.q.Query(ctx, `SELECT id, product_id, variant_id, from_location_id, to_location_id, quantity, unit_cost, created_at
		FROM inventory_transactions
		WHERE reference_type = $1 AND reference_id = $2 AND transaction_type = $3
		ORDER BY id`, refType, refID, string(txType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockTransaction
	for rows.Next() {
		txn := StockTransaction{Type: txType, ReferenceType: refType, ReferenceID: refID}
		if err := rows.Scan(&txn.ID, &txn.ProductID, &txn.VariantID, &txn.FromLocationID, &txn.ToLocationID,
			&txn.Quantity, &txn.UnitCost, &txn.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (StockRecord, error) {
	var rec StockRecord
	err := row.Scan(&rec.ID, &rec.ProductID, &rec.VariantID, &rec.LocationID, &rec.Quantity, &rec.LastCountedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockRecord{}, ErrRecordNotFound
	}
	return rec, err
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
