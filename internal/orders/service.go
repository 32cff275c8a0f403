package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/billiard-pos/billiard-pos/internal/inventory"
	"github.com/billiard-pos/billiard-pos/internal/menu"
	"github.com/billiard-pos/billiard-pos/internal/notify"
	"github.com/billiard-pos/billiard-pos/internal/shared"
)

// Idempotency scopes of the order endpoints.
const (
	ScopeCreate   = "orders.create"
	ScopeComplete = "orders.complete"
	ScopeCancel   = "orders.cancel"
)

// ReferenceType tags stock transactions written for orders.
const ReferenceType = "order"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
	FindIdempotent(ctx context.Context, scope, key string) (int64, bool, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Stock() inventory.Store
	MappingsForItems(ctx context.Context, menuItemIDs []int64) (map[int64][]menu.Mapping, error)
	InsertOrder(ctx context.Context, order Order) (Order, error)
	InsertItem(ctx context.Context, item Item) (Item, error)
	LockOrder(ctx context.Context, id int64) (Order, error)
	UpdateStatus(ctx context.Context, order Order) (Order, error)
	FindIdempotent(ctx context.Context, scope, key string) (int64, bool, error)
	ClaimIdempotencyKey(ctx context.Context, scope, key, reference string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Notifier publishes order events once the transaction committed.
type Notifier interface {
	Emit(ctx context.Context, evt notify.Event)
}

// MetricsPort receives order outcome counts.
type MetricsPort interface {
	OrderTransition(status string)
	StockRejection(source string)
}

// Config holds coordinator settings.
type Config struct {
	DefaultLocationID int64
}

// Service coordinates the order lifecycle with the stock ledger.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	notifier Notifier
	metrics  MetricsPort
	cfg      Config
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, notifier Notifier, metrics MetricsPort, cfg Config) *Service {
	if cfg.DefaultLocationID <= 0 {
		cfg.DefaultLocationID = 1
	}
	return &Service{
		repo:     repo,
		audit:    audit,
		notifier: notifier,
		metrics:  metrics,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder persists a pending order after verifying that every mapped stock
// item is available at the order location. Stock is not deducted here.
func (s *Service) CreateOrder(ctx context.Context, input CreateInput) (Order, error) {
	if err := validateCreate(input); err != nil {
		return Order{}, err
	}
	if order, ok, err := s.replay(ctx, ScopeCreate, input.IdempotencyKey, 0); err != nil || ok {
		return order, err
	}

	location := input.LocationID
	if location <= 0 {
		location = s.cfg.DefaultLocationID
	}
	order := Order{
		TableID:        input.TableID,
		LocationID:     location,
		Status:         StatusPending,
		Notes:          strings.TrimSpace(input.Notes),
		DiscountAmount: input.DiscountAmount,
		DiscountType:   input.DiscountType,
	}
	if input.ActorID > 0 {
		actor := input.ActorID
		order.UserID = &actor
	}
	items := make([]Item, 0, len(input.Items))
	for _, in := range input.Items {
		items = append(items, Item{
			MenuItemID:  in.MenuItemID,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			Notes:       strings.TrimSpace(in.Notes),
			TotalAmount: in.UnitPrice.Mul(decimal.NewFromInt(in.Quantity)),
		})
	}
	order.Subtotal, order.TotalAmount = totals(items, input.DiscountType, input.DiscountAmount)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reqs, err := s.requirements(ctx, tx, items, location)
		if err != nil {
			return err
		}
		ledger := inventory.NewLedger(tx.Stock())
		for _, req := range reqs {
			if _, err := ledger.CheckAvailable(ctx, req.key, req.qty); err != nil {
				return err
			}
		}
		order, err = tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		order.Items = make([]Item, 0, len(items))
		for _, it := range items {
			it.OrderID = order.ID
			saved, err := tx.InsertItem(ctx, it)
			if err != nil {
				return err
			}
			order.Items = append(order.Items, saved)
		}
		return tx.ClaimIdempotencyKey(ctx, ScopeCreate, input.IdempotencyKey, strconv.FormatInt(order.ID, 10))
	})
	if err != nil {
		s.observeRejection(err, "order_create")
		return Order{}, err
	}
	s.recordAudit(ctx, input.ActorID, "ORDER_CREATE", order.ID, map[string]any{
		"total_amount": order.TotalAmount.String(),
		"items":        len(order.Items),
	})
	s.publish(ctx, notify.OrderCreated, order)
	return order, nil
}

// CompleteOrder deducts the stock consumed by a pending order and marks it
// completed. A shortage on any item leaves the order pending and stock intact.
func (s *Service) CompleteOrder(ctx context.Context, orderID, actorID int64, idempotencyKey string) (Order, error) {
	if order, ok, err := s.replay(ctx, ScopeComplete, idempotencyKey, orderID); err != nil || ok {
		return order, err
	}
	var (
		order    Order
		replayed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if replayed, err = claimedFor(ctx, tx, ScopeComplete, idempotencyKey, order.ID); err != nil || replayed {
			return err
		}
		if !order.Status.CanTransition(StatusCompleted) {
			return invalidTransition(order.Status, StatusCompleted)
		}
		reqs, err := s.requirements(ctx, tx, order.Items, order.LocationID)
		if err != nil {
			return err
		}
		ledger := inventory.NewLedger(tx.Stock())
		ref := strconv.FormatInt(order.ID, 10)
		for _, req := range reqs {
			_, err := ledger.ReserveAndDeduct(ctx, req.key, req.qty, inventory.Movement{
				Type:          inventory.TransactionOrderFulfillment,
				ReferenceType: ReferenceType,
				ReferenceID:   ref,
				Notes:         fmt.Sprintf("order #%d", order.ID),
				CreatedBy:     actorID,
			})
			if err != nil {
				return err
			}
		}
		now := s.now()
		order.Status = StatusCompleted
		order.CompletedAt = &now
		order.CompletedBy = actorPtr(actorID)
		order, err = tx.UpdateStatus(ctx, order)
		if err != nil {
			return err
		}
		return tx.ClaimIdempotencyKey(ctx, ScopeComplete, idempotencyKey, ref)
	})
	if err != nil {
		s.observeRejection(err, "order_complete")
		return Order{}, err
	}
	if replayed {
		return order, nil
	}
	s.recordAudit(ctx, actorID, "ORDER_COMPLETE", order.ID, nil)
	s.publish(ctx, notify.OrderCompleted, order)
	return order, nil
}

// CancelOrder cancels a pending or completed order. Cancelling a completed
// order restores exactly the quantities its completion deducted.
func (s *Service) CancelOrder(ctx context.Context, orderID, actorID int64, reason, idempotencyKey string) (Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Order{}, ErrReasonRequired
	}
	if order, ok, err := s.replay(ctx, ScopeCancel, idempotencyKey, orderID); err != nil || ok {
		return order, err
	}
	var (
		order    Order
		restored bool
		replayed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if replayed, err = claimedFor(ctx, tx, ScopeCancel, idempotencyKey, order.ID); err != nil || replayed {
			return err
		}
		if !order.Status.CanTransition(StatusCancelled) {
			return invalidTransition(order.Status, StatusCancelled)
		}
		ref := strconv.FormatInt(order.ID, 10)
		if order.Status == StatusCompleted {
			if err := s.restoreFulfillment(ctx, tx, ref, reason, actorID); err != nil {
				return err
			}
			restored = true
		}
		now := s.now()
		order.Status = StatusCancelled
		order.CancelledAt = &now
		order.CancelledBy = actorPtr(actorID)
		order.CancellationReason = reason
		order, err = tx.UpdateStatus(ctx, order)
		if err != nil {
			return err
		}
		return tx.ClaimIdempotencyKey(ctx, ScopeCancel, idempotencyKey, ref)
	})
	if err != nil {
		s.observeRejection(err, "order_cancel")
		return Order{}, err
	}
	if replayed {
		return order, nil
	}
	s.recordAudit(ctx, actorID, "ORDER_CANCEL", order.ID, map[string]any{
		"reason":         reason,
		"stock_restored": restored,
	})
	s.publish(ctx, notify.OrderCancelled, order)
	return order, nil
}

// GetOrder returns an order with its items.
func (s *Service) GetOrder(ctx context.Context, id int64) (Order, error) {
	if id <= 0 {
		return Order{}, ErrNotFound
	}
	return s.repo.GetOrder(ctx, id)
}

// ListOrders returns orders matching filter, newest first.
func (s *Service) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	switch filter.Status {
	case "", StatusPending, StatusCompleted, StatusCancelled:
	default:
		return nil, shared.ValidationError("orders: unknown status %q", filter.Status)
	}
	return s.repo.ListOrders(ctx, filter)
}

func (s *Service) restoreFulfillment(ctx context.Context, tx TxRepository, ref, reason string, actorID int64) error {
	ledger := inventory.NewLedger(tx.Stock())
	moves, err := ledger.Movements(ctx, ReferenceType, ref, inventory.TransactionOrderFulfillment)
	if err != nil {
		return err
	}
	reqs := make([]requirement, 0, len(moves))
	for _, mv := range moves {
		if mv.FromLocationID == nil {
			continue
		}
		key := inventory.StockKey{ProductID: mv.ProductID, VariantID: mv.VariantID, LocationID: *mv.FromLocationID}
		reqs = addRequirement(reqs, key, mv.Quantity)
	}
	sortRequirements(reqs)
	for _, req := range reqs {
		_, err := ledger.Restore(ctx, req.key, req.qty, inventory.Movement{
			Type:          inventory.TransactionOrderCancellation,
			ReferenceType: ReferenceType,
			ReferenceID:   ref,
			Notes:         reason,
			CreatedBy:     actorID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type requirement struct {
	key inventory.StockKey
	qty decimal.Decimal
}

// requirements aggregates the stock consumed by items per key, in lock order.
func (s *Service) requirements(ctx context.Context, tx TxRepository, items []Item, location int64) ([]requirement, error) {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if !slices.Contains(ids, it.MenuItemID) {
			ids = append(ids, it.MenuItemID)
		}
	}
	mappings, err := tx.MappingsForItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	var reqs []requirement
	for _, it := range items {
		for _, m := range mappings[it.MenuItemID] {
			key := inventory.StockKey{ProductID: m.ProductID, VariantID: m.VariantID, LocationID: location}
			reqs = addRequirement(reqs, key, m.QtyPerItem.Mul(decimal.NewFromInt(it.Quantity)))
		}
	}
	sortRequirements(reqs)
	return reqs, nil
}

func addRequirement(reqs []requirement, key inventory.StockKey, qty decimal.Decimal) []requirement {
	for i := range reqs {
		if reqs[i].key.Equal(key) {
			reqs[i].qty = reqs[i].qty.Add(qty)
			return reqs
		}
	}
	return append(reqs, requirement{key: key, qty: qty})
}

func sortRequirements(reqs []requirement) {
	slices.SortFunc(reqs, func(a, b requirement) int {
		switch {
		case a.key.Less(b.key):
			return -1
		case b.key.Less(a.key):
			return 1
		}
		return 0
	})
}

func totals(items []Item, discountType DiscountType, discount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.TotalAmount)
	}
	var off decimal.Decimal
	switch discountType {
	case DiscountPercentage:
		off = subtotal.Mul(discount).Div(decimal.NewFromInt(100))
	case DiscountFixed:
		off = discount
	}
	total := subtotal.Sub(off)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return subtotal.Round(2), total.Round(2)
}

func validateCreate(input CreateInput) error {
	if len(input.Items) == 0 {
		return ErrEmptyOrder
	}
	for i, it := range input.Items {
		if it.MenuItemID <= 0 {
			return shared.ValidationError("orders: item %d requires menu item", i)
		}
		if it.Quantity <= 0 {
			return shared.ValidationError("orders: item %d quantity must be positive", i)
		}
		if it.UnitPrice.IsNegative() {
			return shared.ValidationError("orders: item %d unit price must not be negative", i)
		}
	}
	switch input.DiscountType {
	case DiscountNone:
		if !input.DiscountAmount.IsZero() {
			return shared.ValidationError("orders: discount type required")
		}
	case DiscountPercentage:
		if input.DiscountAmount.IsNegative() || input.DiscountAmount.GreaterThan(decimal.NewFromInt(100)) {
			return shared.ValidationError("orders: percentage discount must be between 0 and 100")
		}
	case DiscountFixed:
		if input.DiscountAmount.IsNegative() {
			return shared.ValidationError("orders: discount must not be negative")
		}
	default:
		return shared.ValidationError("orders: unknown discount type %q", input.DiscountType)
	}
	return nil
}

// replay returns the order recorded for a committed idempotency key. When
// orderID is set the key must have been committed for that same order.
func (s *Service) replay(ctx context.Context, scope, key string, orderID int64) (Order, bool, error) {
	if key == "" {
		return Order{}, false, nil
	}
	id, ok, err := s.repo.FindIdempotent(ctx, scope, key)
	if err != nil || !ok {
		return Order{}, false, err
	}
	if orderID > 0 && id != orderID {
		return Order{}, false, shared.ErrIdempotencyKeyReused
	}
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, false, err
	}
	return order, true, nil
}

// claimedFor re-reads the key once the order row is locked, catching a
// duplicate that committed while this request waited for the lock.
func claimedFor(ctx context.Context, tx TxRepository, scope, key string, orderID int64) (bool, error) {
	if key == "" {
		return false, nil
	}
	id, ok, err := tx.FindIdempotent(ctx, scope, key)
	if err != nil || !ok {
		return false, err
	}
	if id != orderID {
		return false, shared.ErrIdempotencyKeyReused
	}
	return true, nil
}

func (s *Service) publish(ctx context.Context, event string, order Order) {
	if s.metrics != nil {
		s.metrics.OrderTransition(string(order.Status))
	}
	if s.notifier == nil {
		return
	}
	s.notifier.Emit(ctx, notify.NewOrderEvent(event, order.ID, order.TableID, string(order.Status), order.TotalAmount, s.now()))
}

func (s *Service) observeRejection(err error, source string) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, inventory.ErrInsufficientStock) {
		s.metrics.StockRejection(source)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "order",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}

func invalidTransition(from, to Status) error {
	return &shared.CodedError{
		Kind:    ErrInvalidState.Kind,
		Code:    ErrInvalidState.Code,
		Message: fmt.Sprintf("order cannot move from %s to %s", from, to),
		Err:     ErrInvalidState,
	}
}

func actorPtr(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
