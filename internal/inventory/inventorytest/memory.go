// Package inventorytest provides an in-memory stock database for tests.
package inventorytest

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/billiard-pos/billiard-pos/internal/inventory"
)

type costKey struct {
	productID int64
	variantID int64
	hasVar    bool
}

type state struct {
	records  map[int64]inventory.StockRecord
	txns     []inventory.StockTransaction
	costs    map[costKey]decimal.Decimal
	recordID int64
	txnID    int64
}

func (s state) clone() state {
	return state{
		records:  maps.Clone(s.records),
		txns:     slices.Clone(s.txns),
		costs:    maps.Clone(s.costs),
		recordID: s.recordID,
		txnID:    s.txnID,
	}
}

// DB is an in-memory stock database. Transactions are fully serialized, which
// gives the same observable outcome as row locks on a single key.
type DB struct {
	mu    sync.Mutex
	state state
}

// NewDB returns an empty database.
func NewDB() *DB {
	return &DB{state: state{records: map[int64]inventory.StockRecord{}, costs: map[costKey]decimal.Decimal{}}}
}

// Seed creates or overwrites the record for key.
func (d *DB) Seed(key inventory.StockKey, qty decimal.Decimal) inventory.StockRecord {
	tx := d.Begin()
	defer tx.Commit()
	rec, err := tx.LockRecord(context.Background(), key)
	if err != nil {
		rec, _ = tx.CreateRecord(context.Background(), key)
	}
	rec, _ = tx.SetQuantity(context.Background(), rec.ID, qty, nil)
	return rec
}

// Quantity returns the on-hand quantity for key and whether a record exists.
func (d *DB) Quantity(key inventory.StockKey) (decimal.Decimal, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec, ok := d.find(key); ok {
		return rec.Quantity, true
	}
	return decimal.Zero, false
}

// Transactions returns a copy of the transaction log.
func (d *DB) Transactions() []inventory.StockTransaction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.state.txns)
}

// ProductCost returns the last cost stored for a product.
func (d *DB) ProductCost(productID int64, variantID *int64) (decimal.Decimal, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cost, ok := d.state.costs[newCostKey(productID, variantID)]
	return cost, ok
}

// Begin opens a serialized transaction. Exactly one of Commit or Rollback must follow.
func (d *DB) Begin() *Tx {
	d.mu.Lock()
	return &Tx{db: d, snapshot: d.state.clone()}
}

func (d *DB) find(key inventory.StockKey) (inventory.StockRecord, bool) {
	for _, rec := range d.state.records {
		if rec.Key().Equal(key) {
			return rec, true
		}
	}
	return inventory.StockRecord{}, false
}

var _ inventory.Store = (*Tx)(nil)

// Tx implements inventory.Store over a DB.
type Tx struct {
	db       *DB
	snapshot state
	done     bool
}

// Commit keeps the changes and releases the database.
func (t *Tx) Commit() {
	if t.done {
		return
	}
	t.done = true
	t.db.mu.Unlock()
}

// Rollback restores the state captured by Begin and releases the database.
func (t *Tx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.db.state = t.snapshot
	t.db.mu.Unlock()
}

// ReadRecord equals LockRecord because transactions are serialized.
func (t *Tx) ReadRecord(ctx context.Context, key inventory.StockKey) (inventory.StockRecord, error) {
	return t.LockRecord(ctx, key)
}

func (t *Tx) LockRecord(_ context.Context, key inventory.StockKey) (inventory.StockRecord, error) {
	if rec, ok := t.db.find(key); ok {
		return rec, nil
	}
	return inventory.StockRecord{}, inventory.ErrRecordNotFound
}

func (t *Tx) CreateRecord(_ context.Context, key inventory.StockKey) (inventory.StockRecord, error) {
	if rec, ok := t.db.find(key); ok {
		return rec, nil
	}
	t.db.state.recordID++
	rec := inventory.StockRecord{
		ID:         t.db.state.recordID,
		ProductID:  key.ProductID,
		VariantID:  key.VariantID,
		LocationID: key.LocationID,
		Quantity:   decimal.Zero,
		UpdatedAt:  time.Now().UTC(),
	}
	t.db.state.records[rec.ID] = rec
	return rec, nil
}

func (t *Tx) SetQuantity(_ context.Context, id int64, qty decimal.Decimal, countedAt *time.Time) (inventory.StockRecord, error) {
	rec, ok := t.db.state.records[id]
	if !ok {
		return inventory.StockRecord{}, inventory.ErrRecordNotFound
	}
	rec.Quantity = qty
	rec.UpdatedAt = time.Now().UTC()
	if countedAt != nil {
		rec.LastCountedAt = countedAt
	}
	t.db.state.records[id] = rec
	return rec, nil
}

func (t *Tx) AppendTransaction(_ context.Context, txn inventory.StockTransaction) (inventory.StockTransaction, error) {
	t.db.state.txnID++
	txn.ID = t.db.state.txnID
	t.db.state.txns = append(t.db.state.txns, txn)
	return txn, nil
}

func (t *Tx) UpdateProductCost(_ context.Context, productID int64, variantID *int64, cost decimal.Decimal) error {
	t.db.state.costs[newCostKey(productID, variantID)] = cost
	return nil
}

func (t *Tx) TransactionsByReference(_ context.Context, refType, refID string, txType inventory.TransactionType) ([]inventory.StockTransaction, error) {
	var out []inventory.StockTransaction
	for _, txn := range t.db.state.txns {
		if txn.ReferenceType == refType && txn.ReferenceID == refID && txn.Type == txType {
			out = append(out, txn)
		}
	}
	return out, nil
}

// Transactions lists the log rows visible inside the transaction.
func (t *Tx) Transactions() []inventory.StockTransaction {
	return slices.Clone(t.db.state.txns)
}

func newCostKey(productID int64, variantID *int64) costKey {
	if variantID == nil {
		return costKey{productID: productID}
	}
	return costKey{productID: productID, variantID: *variantID, hasVar: true}
}
