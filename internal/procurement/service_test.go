package procurement_test

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/billiard-pos/billiard-pos/internal/inventory"
	"github.com/billiard-pos/billiard-pos/internal/inventory/inventorytest"
	"github.com/billiard-pos/billiard-pos/internal/procurement"
	"github.com/billiard-pos/billiard-pos/internal/shared"
)

type procState struct {
	pos     map[int64]procurement.PurchaseOrder
	items   map[int64]procurement.Item
	history []procurement.HistoryEntry
	keys    map[string]string
	nextID  int64
}

func (s procState) clone() procState {
	return procState{
		pos:     maps.Clone(s.pos),
		items:   maps.Clone(s.items),
		history: slices.Clone(s.history),
		keys:    maps.Clone(s.keys),
		nextID:  s.nextID,
	}
}

type memoryProcRepo struct {
	stock *inventorytest.DB
	state procState
	// staleLookups makes pre-transaction key lookups miss.
	staleLookups bool
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{
		stock: inventorytest.NewDB(),
		state: procState{
			pos:   map[int64]procurement.PurchaseOrder{},
			items: map[int64]procurement.Item{},
			keys:  map[string]string{},
		},
	}
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	tx := r.stock.Begin()
	snapshot := r.state.clone()
	if err := fn(ctx, &memoryProcTx{repo: r, stock: tx}); err != nil {
		r.state = snapshot
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

func (r *memoryProcRepo) itemsOf(poID int64) []procurement.Item {
	var out []procurement.Item
	for _, id := range slices.Sorted(maps.Keys(r.state.items)) {
		if it := r.state.items[id]; it.POID == poID {
			out = append(out, it)
		}
	}
	return out
}

func (r *memoryProcRepo) GetPO(_ context.Context, id int64) (procurement.PurchaseOrder, error) {
	tx := r.stock.Begin()
	defer tx.Commit()
	po, ok := r.state.pos[id]
	if !ok {
		return procurement.PurchaseOrder{}, procurement.ErrNotFound
	}
	po.Items = r.itemsOf(id)
	return po, nil
}

func (r *memoryProcRepo) ListPOs(_ context.Context, filter procurement.ListFilter) ([]procurement.PurchaseOrder, error) {
	tx := r.stock.Begin()
	defer tx.Commit()
	var out []procurement.PurchaseOrder
	for _, id := range slices.Sorted(maps.Keys(r.state.pos)) {
		po := r.state.pos[id]
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		if filter.SupplierID > 0 && po.SupplierID != filter.SupplierID {
			continue
		}
		out = append(out, po)
	}
	return out, nil
}

func (r *memoryProcRepo) History(_ context.Context, poID int64) ([]procurement.HistoryEntry, error) {
	tx := r.stock.Begin()
	defer tx.Commit()
	var out []procurement.HistoryEntry
	for _, h := range r.state.history {
		if h.POID == poID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *memoryProcRepo) FindIdempotent(_ context.Context, scope, key string) (int64, bool, error) {
	tx := r.stock.Begin()
	defer tx.Commit()
	if r.staleLookups {
		return 0, false, nil
	}
	return r.lookup(scope, key)
}

func (r *memoryProcRepo) lookup(scope, key string) (int64, bool, error) {
	ref, ok := r.state.keys[scope+"/"+key]
	if !ok {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	return id, err == nil, err
}

type memoryProcTx struct {
	repo  *memoryProcRepo
	stock *inventorytest.Tx
}

func (t *memoryProcTx) Stock() inventory.Store { return t.stock }

func (t *memoryProcTx) InsertPO(_ context.Context, po procurement.PurchaseOrder) (procurement.PurchaseOrder, error) {
	t.repo.state.nextID++
	po.ID = t.repo.state.nextID
	po.CreatedAt = time.Now().UTC()
	po.UpdatedAt = po.CreatedAt
	t.repo.state.pos[po.ID] = po
	return po, nil
}

func (t *memoryProcTx) InsertItem(_ context.Context, item procurement.Item) (procurement.Item, error) {
	t.repo.state.nextID++
	item.ID = t.repo.state.nextID
	item.QuantityReceived = decimal.Zero
	t.repo.state.items[item.ID] = item
	return item, nil
}

func (t *memoryProcTx) LockPO(_ context.Context, id int64) (procurement.PurchaseOrder, error) {
	po, ok := t.repo.state.pos[id]
	if !ok {
		return procurement.PurchaseOrder{}, procurement.ErrNotFound
	}
	return po, nil
}

func (t *memoryProcTx) LockItem(_ context.Context, poID, itemID int64) (procurement.Item, error) {
	it, ok := t.repo.state.items[itemID]
	if !ok || it.POID != poID {
		return procurement.Item{}, procurement.ErrItemNotFound
	}
	return it, nil
}

func (t *memoryProcTx) SetReceived(_ context.Context, itemID int64, qty decimal.Decimal) error {
	it := t.repo.state.items[itemID]
	it.QuantityReceived = qty
	t.repo.state.items[itemID] = it
	return nil
}

func (t *memoryProcTx) ListItems(_ context.Context, poID int64) ([]procurement.Item, error) {
	return t.repo.itemsOf(poID), nil
}

func (t *memoryProcTx) UpdateStatus(_ context.Context, poID int64, status procurement.Status) error {
	po, ok := t.repo.state.pos[poID]
	if !ok {
		return procurement.ErrNotFound
	}
	po.Status = status
	t.repo.state.pos[poID] = po
	return nil
}

func (t *memoryProcTx) AppendHistory(_ context.Context, entry procurement.HistoryEntry) (procurement.HistoryEntry, error) {
	t.repo.state.nextID++
	entry.ID = t.repo.state.nextID
	entry.CreatedAt = time.Now().UTC()
	t.repo.state.history = append(t.repo.state.history, entry)
	return entry, nil
}

func (t *memoryProcTx) FindIdempotent(_ context.Context, scope, key string) (int64, bool, error) {
	return t.repo.lookup(scope, key)
}

func (t *memoryProcTx) ClaimIdempotencyKey(_ context.Context, scope, key, reference string) error {
	if key == "" {
		return nil
	}
	if _, ok := t.repo.state.keys[scope+"/"+key]; ok {
		return shared.ErrIdempotencyConflict
	}
	t.repo.state.keys[scope+"/"+key] = reference
	return nil
}

type receiptSpy struct {
	statuses []string
}

func (m *receiptSpy) POReceipt(status string) { m.statuses = append(m.statuses, status) }

const warehouse int64 = 1

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPO(t *testing.T, svc *procurement.Service, items ...procurement.ItemInput) procurement.PurchaseOrder {
	t.Helper()
	po, err := svc.CreateWithItems(context.Background(), procurement.CreateInput{SupplierID: 5, Items: items, ActorID: 2})
	require.NoError(t, err)
	return po
}

func line(productID int64, qty, cost string) procurement.ItemInput {
	return procurement.ItemInput{ProductID: productID, QuantityOrdered: dec(qty), UnitCost: dec(cost)}
}

func receive(itemID int64, qty string) procurement.ReceiveInput {
	return procurement.ReceiveInput{
		LocationID: warehouse,
		Lines:      []procurement.ReceiveLine{{POItemID: itemID, Quantity: dec(qty)}},
	}
}

func TestCreateWithItemsStartsAsDraft(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := procurement.NewService(repo, nil, nil)

	po := newPO(t, svc, line(1, "10", "12500"), line(2, "4", "0"))
	require.Equal(t, procurement.StatusDraft, po.Status)
	require.NotEmpty(t, po.PONumber)
	require.Len(t, po.Items, 2)
	require.Empty(t, repo.stock.Transactions())

	history, err := svc.History(context.Background(), po.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, procurement.StatusDraft, history[0].Status)
}

func TestCreateWithItemsValidates(t *testing.T) {
	svc := procurement.NewService(newMemoryProcRepo(), nil, nil)
	ctx := context.Background()
	cases := map[string]procurement.CreateInput{
		"no supplier": {Items: []procurement.ItemInput{line(1, "1", "1")}},
		"no items":    {SupplierID: 1},
		"zero qty":    {SupplierID: 1, Items: []procurement.ItemInput{line(1, "0", "1")}},
		"sub-scale":   {SupplierID: 1, Items: []procurement.ItemInput{line(1, "1.0005", "1")}},
		"neg cost":    {SupplierID: 1, Items: []procurement.ItemInput{line(1, "1", "-1")}},
		"tax range":   {SupplierID: 1, Items: []procurement.ItemInput{{ProductID: 1, QuantityOrdered: dec("1"), TaxRate: dec("101")}}},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateWithItems(ctx, input)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestReceivePartialThenRejectOverReceipt(t *testing.T) {
	repo := newMemoryProcRepo()
	metrics := &receiptSpy{}
	svc := procurement.NewService(repo, nil, metrics)
	ctx := context.Background()
	po := newPO(t, svc, line(1, "10", "12500"))
	key := inventory.StockKey{ProductID: 1, LocationID: warehouse}

	got, err := svc.ReceiveItems(ctx, po.ID, receive(po.Items[0].ID, "6"))
	require.NoError(t, err)
	require.Equal(t, procurement.StatusPartiallyReceived, got.Status)
	require.True(t, got.Items[0].QuantityReceived.Equal(dec("6")))
	qty, ok := repo.stock.Quantity(key)
	require.True(t, ok)
	require.True(t, qty.Equal(dec("6")))

	txns := repo.stock.Transactions()
	require.Len(t, txns, 1)
	require.Equal(t, inventory.TransactionPurchase, txns[0].Type)
	require.Equal(t, procurement.ReferenceType, txns[0].ReferenceType)
	require.True(t, txns[0].UnitCost.Equal(dec("12500")))
	require.NotNil(t, txns[0].ToLocationID)
	cost, ok := repo.stock.ProductCost(1, nil)
	require.True(t, ok)
	require.True(t, cost.Equal(dec("12500")))

	_, err = svc.ReceiveItems(ctx, po.ID, receive(po.Items[0].ID, "5"))
	require.ErrorIs(t, err, procurement.ErrOverReceipt)
	require.ErrorIs(t, err, shared.ErrBusinessRule)
	qty, _ = repo.stock.Quantity(key)
	require.True(t, qty.Equal(dec("6")))
	require.Len(t, repo.stock.Transactions(), 1)

	current, err := svc.Get(ctx, po.ID)
	require.NoError(t, err)
	require.True(t, current.Items[0].QuantityReceived.Equal(dec("6")))
	require.Equal(t, []string{"partially_received", "rejected"}, metrics.statuses)
}

func TestReceiveBatchIsAllOrNothing(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := procurement.NewService(repo, nil, nil)
	ctx := context.Background()
	po := newPO(t, svc, line(1, "10", "1"), line(2, "2", "1"))

	_, err := svc.ReceiveItems(ctx, po.ID, procurement.ReceiveInput{
		LocationID: warehouse,
		Lines: []procurement.ReceiveLine{
			{POItemID: po.Items[0].ID, Quantity: dec("10")},
			{POItemID: po.Items[1].ID, Quantity: dec("3")},
		},
	})
	var over *procurement.OverReceiptError
	require.ErrorAs(t, err, &over)
	require.Equal(t, po.Items[1].ID, over.POItemID)

	_, ok := repo.stock.Quantity(inventory.StockKey{ProductID: 1, LocationID: warehouse})
	require.False(t, ok, "first line must be rolled back")
	current, err := svc.Get(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.StatusDraft, current.Status)
	require.True(t, current.Items[0].QuantityReceived.IsZero())
}

func TestReceiveCompletesAndWritesHistory(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := procurement.NewService(repo, nil, nil)
	ctx := context.Background()
	po := newPO(t, svc, line(1, "2.5", "1"), line(2, "1", "1"))

	_, err := svc.UpdateStatus(ctx, po.ID, procurement.StatusPending, 2, "")
	require.NoError(t, err)

	got, err := svc.ReceiveItems(ctx, po.ID, procurement.ReceiveInput{
		LocationID: warehouse,
		Lines: []procurement.ReceiveLine{
			{POItemID: po.Items[1].ID, Quantity: dec("1")},
			{POItemID: po.Items[0].ID, Quantity: dec("1.5")},
			{POItemID: po.Items[0].ID, Quantity: dec("1")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, procurement.StatusCompleted, got.Status)

	history, err := svc.History(ctx, po.ID)
	require.NoError(t, err)
	statuses := make([]procurement.Status, 0, len(history))
	for _, h := range history {
		statuses = append(statuses, h.Status)
	}
	require.Equal(t, []procurement.Status{procurement.StatusDraft, procurement.StatusPending, procurement.StatusCompleted}, statuses)

	_, err = svc.ReceiveItems(ctx, po.ID, receive(po.Items[0].ID, "0.1"))
	require.ErrorIs(t, err, procurement.ErrInvalidState)

	_, err = svc.UpdateStatus(ctx, po.ID, procurement.StatusCancelled, 2, "")
	require.ErrorIs(t, err, procurement.ErrInvalidState)
}

func TestReceiveRejectsCancelledAndForeignItems(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := procurement.NewService(repo, nil, nil)
	ctx := context.Background()
	a := newPO(t, svc, line(1, "5", "1"))
	b := newPO(t, svc, line(1, "5", "1"))

	_, err := svc.ReceiveItems(ctx, a.ID, receive(b.Items[0].ID, "1"))
	require.ErrorIs(t, err, procurement.ErrItemNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.ReceiveItems(ctx, a.ID, procurement.ReceiveInput{Lines: []procurement.ReceiveLine{{POItemID: a.Items[0].ID, Quantity: dec("1")}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.UpdateStatus(ctx, a.ID, procurement.StatusCancelled, 2, "supplier closed")
	require.NoError(t, err)
	_, err = svc.ReceiveItems(ctx, a.ID, receive(a.Items[0].ID, "1"))
	require.ErrorIs(t, err, procurement.ErrInvalidState)
	require.Empty(t, repo.stock.Transactions())

	_, err = svc.UpdateStatus(ctx, a.ID, procurement.StatusPending, 2, "")
	require.ErrorIs(t, err, procurement.ErrInvalidState)
	_, err = svc.UpdateStatus(ctx, b.ID, procurement.StatusCompleted, 2, "")
	require.ErrorIs(t, err, procurement.ErrInvalidState)
}

func TestReceiveIdempotencyKeyPreventsDoubleReceipt(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := procurement.NewService(repo, nil, nil)
	ctx := context.Background()
	po := newPO(t, svc, line(1, "10", "1"))
	input := receive(po.Items[0].ID, "4")
	input.IdempotencyKey = "delivery-77"

	_, err := svc.ReceiveItems(ctx, po.ID, input)
	require.NoError(t, err)
	again, err := svc.ReceiveItems(ctx, po.ID, input)
	require.NoError(t, err)
	require.True(t, again.Items[0].QuantityReceived.Equal(dec("4")))

	qty, _ := repo.stock.Quantity(inventory.StockKey{ProductID: 1, LocationID: warehouse})
	require.True(t, qty.Equal(dec("4")))
	require.Len(t, repo.stock.Transactions(), 1)
}

func TestReceiveRejectsQuantityFinerThanStorage(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := procurement.NewService(repo, nil, nil)
	po := newPO(t, svc, line(1, "10", "1"))

	_, err := svc.ReceiveItems(context.Background(), po.ID, receive(po.Items[0].ID, "0.0004"))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.stock.Transactions())

	got, err := svc.ReceiveItems(context.Background(), po.ID, receive(po.Items[0].ID, "0.125"))
	require.NoError(t, err)
	require.True(t, got.Items[0].QuantityReceived.Equal(dec("0.125")))
}

func TestReceiveKeyReusedOnAnotherPOConflicts(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := procurement.NewService(repo, nil, nil)
	ctx := context.Background()
	first := newPO(t, svc, line(1, "10", "1"))
	second := newPO(t, svc, line(2, "10", "1"))

	input := receive(first.Items[0].ID, "4")
	input.IdempotencyKey = "delivery-9"
	_, err := svc.ReceiveItems(ctx, first.ID, input)
	require.NoError(t, err)

	other := receive(second.Items[0].ID, "3")
	other.IdempotencyKey = "delivery-9"
	_, err = svc.ReceiveItems(ctx, second.ID, other)
	require.ErrorIs(t, err, shared.ErrIdempotencyKeyReused)
	require.ErrorIs(t, err, shared.ErrConflict)

	// Same outcome when the key committed while the request waited for the PO lock.
	repo.staleLookups = true
	_, err = svc.ReceiveItems(ctx, second.ID, other)
	require.ErrorIs(t, err, shared.ErrIdempotencyKeyReused)

	got, err := svc.Get(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.StatusDraft, got.Status)
	require.True(t, got.Items[0].QuantityReceived.IsZero())
	_, ok := repo.stock.Quantity(inventory.StockKey{ProductID: 2, LocationID: warehouse})
	require.False(t, ok)
}

func TestReceiveDuplicateCommittedWhileWaitingReplays(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := procurement.NewService(repo, nil, nil)
	ctx := context.Background()
	po := newPO(t, svc, line(1, "10", "1"))
	input := receive(po.Items[0].ID, "4")
	input.IdempotencyKey = "delivery-78"

	_, err := svc.ReceiveItems(ctx, po.ID, input)
	require.NoError(t, err)
	repo.staleLookups = true
	again, err := svc.ReceiveItems(ctx, po.ID, input)
	require.NoError(t, err)
	require.Equal(t, procurement.StatusPartiallyReceived, again.Status)
	require.True(t, again.Items[0].QuantityReceived.Equal(dec("4")))

	qty, _ := repo.stock.Quantity(inventory.StockKey{ProductID: 1, LocationID: warehouse})
	require.True(t, qty.Equal(dec("4")))
	require.Len(t, repo.stock.Transactions(), 1)
}

func TestReceiveVariantKeepsSeparateRecord(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := procurement.NewService(repo, nil, nil)
	variant := int64(9)
	repo.stock.Seed(inventory.StockKey{ProductID: 1, LocationID: warehouse}, dec("3"))
	po := newPO(t, svc, procurement.ItemInput{ProductID: 1, VariantID: &variant, QuantityOrdered: dec("2"), UnitCost: dec("7")})

	_, err := svc.ReceiveItems(context.Background(), po.ID, receive(po.Items[0].ID, "2"))
	require.NoError(t, err)

	plain, _ := repo.stock.Quantity(inventory.StockKey{ProductID: 1, LocationID: warehouse})
	require.True(t, plain.Equal(dec("3")))
	withVariant, ok := repo.stock.Quantity(inventory.StockKey{ProductID: 1, VariantID: &variant, LocationID: warehouse})
	require.True(t, ok)
	require.True(t, withVariant.Equal(dec("2")))
	cost, ok := repo.stock.ProductCost(1, &variant)
	require.True(t, ok)
	require.True(t, cost.Equal(dec("7")))
}
