package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the transaction-scoped persistence used by Ledger. Implementations
// run every call on the caller's open transaction.
type Store interface {
	// ReadRecord reads a record without locking it; ErrRecordNotFound when absent.
	ReadRecord(ctx context.Context, key StockKey) (StockRecord, error)
	// LockRecord reads a record with a row lock; ErrRecordNotFound when absent.
	LockRecord(ctx context.Context, key StockKey) (StockRecord, error)
	// CreateRecord inserts a zero-quantity record when absent and returns it locked.
	CreateRecord(ctx context.Context, key StockKey) (StockRecord, error)
	// SetQuantity overwrites the on-hand quantity of a locked record.
	SetQuantity(ctx context.Context, id int64, qty decimal.Decimal, countedAt *time.Time) (StockRecord, error)
	// AppendTransaction writes one row of the stock transaction log.
	AppendTransaction(ctx context.Context, txn StockTransaction) (StockTransaction, error)
	// UpdateProductCost stores the last known purchase cost of a product.
	UpdateProductCost(ctx context.Context, productID int64, variantID *int64, cost decimal.Decimal) error
	// TransactionsByReference lists log rows of one type written for a reference.
	TransactionsByReference(ctx context.Context, refType, refID string, txType TransactionType) ([]StockTransaction, error)
}

// Ledger applies stock mutations inside a transaction owned by the caller. It
// never begins or commits a transaction and every mutation is paired with
// exactly one StockTransaction row.
type Ledger struct {
	store Store
	clock func() time.Time
}

// NewLedger binds a ledger to a transaction-scoped store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, clock: func() time.Time { return time.Now().UTC() }}
}

// GetRecord returns the record for key or ErrRecordNotFound. It takes no row lock.
func (l *Ledger) GetRecord(ctx context.Context, key StockKey) (StockRecord, error) {
	return l.store.ReadRecord(ctx, key)
}

// Movements returns the log rows of txType recorded against a reference.
func (l *Ledger) Movements(ctx context.Context, refType, refID string, txType TransactionType) ([]StockTransaction, error) {
	return l.store.TransactionsByReference(ctx, refType, refID, txType)
}

// CheckAvailable locks the record and verifies that amount could be deducted
// without mutating it.
func (l *Ledger) CheckAvailable(ctx context.Context, key StockKey, amount decimal.Decimal) (StockRecord, error) {
	if !ValidQuantity(amount) {
		return StockRecord{}, ErrInvalidQuantity
	}
	rec, err := l.store.LockRecord(ctx, key)
	if errors.Is(err, ErrRecordNotFound) {
		return StockRecord{}, &InsufficientStockError{Key: key, Required: amount, Available: decimal.Zero}
	}
	if err != nil {
		return StockRecord{}, err
	}
	if rec.Quantity.LessThan(amount) {
		return rec, &InsufficientStockError{Key: key, Required: amount, Available: rec.Quantity}
	}
	return rec, nil
}

// ReserveAndDeduct decrements the record by amount. An absent record or a
// shortfall fails with *InsufficientStockError and leaves everything untouched.
func (l *Ledger) ReserveAndDeduct(ctx context.Context, key StockKey, amount decimal.Decimal, mv Movement) (StockRecord, error) {
	if !mv.Type.decrements() {
		return StockRecord{}, ErrInvalidMovement
	}
	rec, err := l.CheckAvailable(ctx, key, amount)
	if err != nil {
		return StockRecord{}, err
	}
	from := key.LocationID
	return l.apply(ctx, rec, rec.Quantity.Sub(amount), amount, mv, &from, nil)
}

// Restore increments the record by amount, creating it when absent.
func (l *Ledger) Restore(ctx context.Context, key StockKey, amount decimal.Decimal, mv Movement) (StockRecord, error) {
	if !mv.Type.increments() || mv.Type == TransactionPurchase {
		return StockRecord{}, ErrInvalidMovement
	}
	return l.increment(ctx, key, amount, mv)
}

// Receive increments the record with a purchase movement. When updateCost is
// set and unitCost is positive the product's last known cost is updated too.
func (l *Ledger) Receive(ctx context.Context, key StockKey, amount, unitCost decimal.Decimal, mv Movement, updateCost bool) (StockRecord, error) {
	mv.Type = TransactionPurchase
	mv.UnitCost = unitCost
	rec, err := l.increment(ctx, key, amount, mv)
	if err != nil {
		return StockRecord{}, err
	}
	if updateCost && unitCost.IsPositive() {
		if err := l.store.UpdateProductCost(ctx, key.ProductID, key.VariantID, unitCost); err != nil {
			return StockRecord{}, err
		}
	}
	return rec, nil
}

func (l *Ledger) increment(ctx context.Context, key StockKey, amount decimal.Decimal, mv Movement) (StockRecord, error) {
	if !ValidQuantity(amount) {
		return StockRecord{}, ErrInvalidQuantity
	}
	rec, err := l.store.LockRecord(ctx, key)
	if errors.Is(err, ErrRecordNotFound) {
		rec, err = l.store.CreateRecord(ctx, key)
	}
	if err != nil {
		return StockRecord{}, err
	}
	to := key.LocationID
	return l.apply(ctx, rec, rec.Quantity.Add(amount), amount, mv, nil, &to)
}

func (l *Ledger) apply(ctx context.Context, rec StockRecord, next, amount decimal.Decimal, mv Movement, from, to *int64) (StockRecord, error) {
	if next.IsNegative() {
		return StockRecord{}, &InsufficientStockError{Key: rec.Key(), Required: amount, Available: rec.Quantity}
	}
	now := l.clock()
	var counted *time.Time
	if mv.Counted {
		counted = &now
	}
	updated, err := l.store.SetQuantity(ctx, rec.ID, next, counted)
	if err != nil {
		return StockRecord{}, err
	}
	txn := StockTransaction{
		Type:           mv.Type,
		ReferenceType:  mv.ReferenceType,
		ReferenceID:    mv.ReferenceID,
		ProductID:      rec.ProductID,
		VariantID:      rec.VariantID,
		FromLocationID: from,
		ToLocationID:   to,
		Quantity:       amount,
		UnitCost:       mv.UnitCost,
		Notes:          mv.Notes,
		CreatedAt:      now,
	}
	if mv.CreatedBy > 0 {
		actor := mv.CreatedBy
		txn.CreatedBy = &actor
	}
	if _, err := l.store.AppendTransaction(ctx, txn); err != nil {
		return StockRecord{}, err
	}
	return updated, nil
}
