package inventory_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/billiard-pos/billiard-pos/internal/inventory"
	"github.com/billiard-pos/billiard-pos/internal/inventory/inventorytest"
	"github.com/billiard-pos/billiard-pos/internal/shared"
)

type memoryRepo struct {
	db *inventorytest.DB
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{db: inventorytest.NewDB()}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.Store) error) error {
	tx := r.db.Begin()
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

func (r *memoryRepo) GetRecord(ctx context.Context, key inventory.StockKey) (inventory.StockRecord, error) {
	tx := r.db.Begin()
	defer tx.Commit()
	return tx.ReadRecord(ctx, key)
}

func (r *memoryRepo) ListHistory(_ context.Context, filter inventory.HistoryFilter) ([]inventory.StockTransaction, error) {
	var out []inventory.StockTransaction
	txns := r.db.Transactions()
	for i := len(txns) - 1; i >= 0; i-- {
		if txns[i].ProductID == filter.ProductID {
			out = append(out, txns[i])
		}
	}
	return out, nil
}

func (r *memoryRepo) ListLowStock(context.Context, *decimal.Decimal) ([]inventory.LowStockItem, error) {
	return nil, nil
}

type auditSpy struct {
	logs []shared.AuditLog
}

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type rejectionSpy struct {
	sources []string
}

func (m *rejectionSpy) StockRejection(source string) {
	m.sources = append(m.sources, source)
}

func TestAdjustBooksSignedMovements(t *testing.T) {
	repo := newMemoryRepo()
	audit := &auditSpy{}
	svc := inventory.NewService(repo, audit, nil)
	ctx := context.Background()

	rec, err := svc.Adjust(ctx, inventory.AdjustmentInput{ProductID: 1, LocationID: 1, Quantity: dec("10"), Notes: "count", ActorID: 3})
	require.NoError(t, err)
	require.True(t, rec.Quantity.Equal(dec("10")))
	require.NotNil(t, rec.LastCountedAt)

	rec, err = svc.Adjust(ctx, inventory.AdjustmentInput{ProductID: 1, LocationID: 1, Quantity: dec("-4"), Notes: "spoilage"})
	require.NoError(t, err)
	require.True(t, rec.Quantity.Equal(dec("6")))

	txns := repo.db.Transactions()
	require.Len(t, txns, 2)
	require.Equal(t, inventory.TransactionAdjustmentIn, txns[0].Type)
	require.Equal(t, inventory.TransactionAdjustmentOut, txns[1].Type)
	require.True(t, txns[1].Quantity.Equal(dec("4")))
	require.Equal(t, "adjustment", txns[0].ReferenceType)
	require.Equal(t, int64(3), *txns[0].CreatedBy)
	require.Len(t, audit.logs, 2)
}

func TestAdjustCannotOverdraw(t *testing.T) {
	repo := newMemoryRepo()
	metrics := &rejectionSpy{}
	svc := inventory.NewService(repo, nil, metrics)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, inventory.AdjustmentInput{ProductID: 1, LocationID: 1, Quantity: dec("-1")})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Equal(t, []string{"adjustment"}, metrics.sources)

	_, err = svc.Adjust(ctx, inventory.AdjustmentInput{ProductID: 1, LocationID: 1, Quantity: decimal.Zero})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	_, err = svc.Adjust(ctx, inventory.AdjustmentInput{ProductID: 1, LocationID: 1, Quantity: dec("0.0004")})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	_, err = svc.Adjust(ctx, inventory.AdjustmentInput{ProductID: 1, LocationID: 1, Quantity: dec("-0.0004")})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	_, err = svc.Transfer(ctx, inventory.TransferInput{ProductID: 1, FromLocationID: 1, ToLocationID: 2, Quantity: dec("0.0004")})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	require.Empty(t, repo.db.Transactions())

	_, err = svc.Adjust(ctx, inventory.AdjustmentInput{ProductID: 1, Quantity: dec("1")})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransferMovesStockAtomically(t *testing.T) {
	repo := newMemoryRepo()
	svc := inventory.NewService(repo, nil, nil)
	ctx := context.Background()
	src := inventory.StockKey{ProductID: 1, LocationID: 1}
	dst := inventory.StockKey{ProductID: 1, LocationID: 2}
	repo.db.Seed(src, dec("20"))

	result, err := svc.Transfer(ctx, inventory.TransferInput{ProductID: 1, FromLocationID: 1, ToLocationID: 2, Quantity: dec("5"), Notes: "bar restock"})
	require.NoError(t, err)
	require.True(t, result.From.Quantity.Equal(dec("15")))
	require.True(t, result.To.Quantity.Equal(dec("5")))

	txns := repo.db.Transactions()
	require.Len(t, txns, 2)
	for _, txn := range txns {
		require.Equal(t, inventory.TransactionTransfer, txn.Type)
		require.Equal(t, result.ReferenceID, txn.ReferenceID)
	}
	require.Equal(t, int64(1), *txns[0].FromLocationID)
	require.Equal(t, int64(2), *txns[1].ToLocationID)

	_, err = svc.Transfer(ctx, inventory.TransferInput{ProductID: 1, FromLocationID: 1, ToLocationID: 2, Quantity: dec("50")})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	qty, _ := repo.db.Quantity(src)
	require.True(t, qty.Equal(dec("15")))
	qty, _ = repo.db.Quantity(dst)
	require.True(t, qty.Equal(dec("5")))
	require.Len(t, repo.db.Transactions(), 2)

	_, err = svc.Transfer(ctx, inventory.TransferInput{ProductID: 1, FromLocationID: 1, ToLocationID: 1, Quantity: dec("1")})
	require.ErrorIs(t, err, inventory.ErrSameLocation)
}

func TestLedgerConservesQuantity(t *testing.T) {
	repo := newMemoryRepo()
	svc := inventory.NewService(repo, nil, nil)
	ctx := context.Background()
	key := inventory.StockKey{ProductID: 9, LocationID: 1}

	for _, q := range []string{"10", "-3", "2.5", "-9.5", "4", "-10"} {
		_, _ = svc.Adjust(ctx, inventory.AdjustmentInput{ProductID: 9, LocationID: 1, Quantity: dec(q)})
	}

	net := decimal.Zero
	for _, txn := range repo.db.Transactions() {
		switch txn.Type {
		case inventory.TransactionAdjustmentIn:
			net = net.Add(txn.Quantity)
		case inventory.TransactionAdjustmentOut:
			net = net.Sub(txn.Quantity)
		}
	}
	qty, _ := repo.db.Quantity(key)
	require.True(t, qty.Equal(net), "quantity %s != net %s", qty, net)
	require.False(t, qty.IsNegative())
}

func TestHistoryRequiresProduct(t *testing.T) {
	svc := inventory.NewService(newMemoryRepo(), nil, nil)
	_, err := svc.History(context.Background(), inventory.HistoryFilter{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.History(context.Background(), inventory.HistoryFilter{ProductID: 1, Type: "bogus"})
	require.ErrorIs(t, err, shared.ErrValidation)
}
