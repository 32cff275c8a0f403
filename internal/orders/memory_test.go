package orders_test

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/billiard-pos/billiard-pos/internal/inventory"
	"github.com/billiard-pos/billiard-pos/internal/inventory/inventorytest"
	"github.com/billiard-pos/billiard-pos/internal/menu"
	"github.com/billiard-pos/billiard-pos/internal/notify"
	"github.com/billiard-pos/billiard-pos/internal/orders"
	"github.com/billiard-pos/billiard-pos/internal/shared"
)

type orderState struct {
	orders   map[int64]orders.Order
	keys     map[string]string
	orderID  int64
	itemID   int64
	mappings map[int64][]menu.Mapping
}

func (s orderState) clone() orderState {
	out := orderState{
		orders:   make(map[int64]orders.Order, len(s.orders)),
		keys:     maps.Clone(s.keys),
		orderID:  s.orderID,
		itemID:   s.itemID,
		mappings: maps.Clone(s.mappings),
	}
	for id, o := range s.orders {
		o.Items = slices.Clone(o.Items)
		out.orders[id] = o
	}
	return out
}

// memoryRepo shares the serialized inventorytest.DB lock so order rows and
// stock rows commit or roll back together.
type memoryRepo struct {
	stock *inventorytest.DB
	state orderState
	// staleLookups makes pre-transaction key lookups miss, as they do for a
	// request that read the keys before a duplicate committed.
	staleLookups bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		stock: inventorytest.NewDB(),
		state: orderState{
			orders:   map[int64]orders.Order{},
			keys:     map[string]string{},
			mappings: map[int64][]menu.Mapping{},
		},
	}
}

func (r *memoryRepo) setMappings(menuItemID int64, mappings ...menu.Mapping) {
	tx := r.stock.Begin()
	defer tx.Commit()
	for i := range mappings {
		mappings[i].MenuItemID = menuItemID
	}
	r.state.mappings[menuItemID] = mappings
}

func (r *memoryRepo) count() int {
	tx := r.stock.Begin()
	defer tx.Commit()
	return len(r.state.orders)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, orders.TxRepository) error) error {
	tx := r.stock.Begin()
	snapshot := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r, stock: tx}); err != nil {
		r.state = snapshot
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

func (r *memoryRepo) GetOrder(_ context.Context, id int64) (orders.Order, error) {
	tx := r.stock.Begin()
	defer tx.Commit()
	o, ok := r.state.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	o.Items = slices.Clone(o.Items)
	return o, nil
}

func (r *memoryRepo) ListOrders(_ context.Context, filter orders.ListFilter) ([]orders.Order, error) {
	tx := r.stock.Begin()
	defer tx.Commit()
	var out []orders.Order
	for _, id := range slices.Sorted(maps.Keys(r.state.orders)) {
		o := r.state.orders[id]
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *memoryRepo) FindIdempotent(_ context.Context, scope, key string) (int64, bool, error) {
	tx := r.stock.Begin()
	defer tx.Commit()
	if r.staleLookups {
		return 0, false, nil
	}
	return r.lookup(scope, key)
}

func (r *memoryRepo) lookup(scope, key string) (int64, bool, error) {
	ref, ok := r.state.keys[scope+"/"+key]
	if !ok {
		return 0, false, nil
	}
	for id := range r.state.orders {
		if ref == idString(id) {
			return id, true, nil
		}
	}
	return 0, false, nil
}

type memoryTx struct {
	repo  *memoryRepo
	stock *inventorytest.Tx
}

func (t *memoryTx) Stock() inventory.Store { return t.stock }

func (t *memoryTx) MappingsForItems(_ context.Context, ids []int64) (map[int64][]menu.Mapping, error) {
	out := make(map[int64][]menu.Mapping, len(ids))
	for _, id := range ids {
		if m, ok := t.repo.state.mappings[id]; ok {
			out[id] = slices.Clone(m)
		}
	}
	return out, nil
}

func (t *memoryTx) InsertOrder(_ context.Context, o orders.Order) (orders.Order, error) {
	t.repo.state.orderID++
	o.ID = t.repo.state.orderID
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	o.Items = nil
	t.repo.state.orders[o.ID] = o
	return o, nil
}

func (t *memoryTx) InsertItem(_ context.Context, it orders.Item) (orders.Item, error) {
	o, ok := t.repo.state.orders[it.OrderID]
	if !ok {
		return orders.Item{}, orders.ErrNotFound
	}
	t.repo.state.itemID++
	it.ID = t.repo.state.itemID
	o.Items = append(slices.Clip(o.Items), it)
	t.repo.state.orders[o.ID] = o
	return it, nil
}

func (t *memoryTx) LockOrder(_ context.Context, id int64) (orders.Order, error) {
	o, ok := t.repo.state.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	o.Items = slices.Clone(o.Items)
	return o, nil
}

func (t *memoryTx) UpdateStatus(_ context.Context, o orders.Order) (orders.Order, error) {
	if _, ok := t.repo.state.orders[o.ID]; !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	o.UpdatedAt = time.Now().UTC()
	t.repo.state.orders[o.ID] = o
	return o, nil
}

func (t *memoryTx) FindIdempotent(_ context.Context, scope, key string) (int64, bool, error) {
	return t.repo.lookup(scope, key)
}

func (t *memoryTx) ClaimIdempotencyKey(_ context.Context, scope, key, reference string) error {
	if key == "" {
		return nil
	}
	k := scope + "/" + key
	if _, ok := t.repo.state.keys[k]; ok {
		return shared.ErrIdempotencyConflict
	}
	t.repo.state.keys[k] = reference
	return nil
}

type notifierSpy struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *notifierSpy) Emit(_ context.Context, evt notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
}

func (n *notifierSpy) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Name)
	}
	return out
}

type metricsSpy struct {
	mu          sync.Mutex
	transitions []string
	rejections  []string
}

func (m *metricsSpy) OrderTransition(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, status)
}

func (m *metricsSpy) StockRejection(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections = append(m.rejections, source)
}
