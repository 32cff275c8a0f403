package procurement

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/billiard-pos/billiard-pos/internal/inventory"
	"github.com/billiard-pos/billiard-pos/internal/shared"
)

// ScopeReceive is the idempotency scope of goods receipts.
const ScopeReceive = "purchase_orders.receive"

// ReferenceType tags stock transactions written for receipts.
const ReferenceType = "purchase_order"

var hundred = decimal.NewFromInt(100)

// ErrItemNotFound indicates a receipt line that does not belong to the PO.
var ErrItemNotFound = shared.NewCodedError(shared.ErrNotFound, "not_found", "purchase order item not found")

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error)
	History(ctx context.Context, poID int64) ([]HistoryEntry, error)
	FindIdempotent(ctx context.Context, scope, key string) (int64, bool, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Stock() inventory.Store
	InsertPO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	InsertItem(ctx context.Context, item Item) (Item, error)
	LockPO(ctx context.Context, id int64) (PurchaseOrder, error)
	LockItem(ctx context.Context, poID, itemID int64) (Item, error)
	SetReceived(ctx context.Context, itemID int64, qty decimal.Decimal) error
	ListItems(ctx context.Context, poID int64) ([]Item, error)
	UpdateStatus(ctx context.Context, poID int64, status Status) error
	AppendHistory(ctx context.Context, entry HistoryEntry) (HistoryEntry, error)
	FindIdempotent(ctx context.Context, scope, key string) (int64, bool, error)
	ClaimIdempotencyKey(ctx context.Context, scope, key, reference string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives receipt outcome counts.
type MetricsPort interface {
	POReceipt(status string)
}

// Service orchestrates purchase order receiving.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	now     func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics, now: func() time.Time { return time.Now().UTC() }}
}

// CreateWithItems persists a draft purchase order and its lines. No stock moves.
func (s *Service) CreateWithItems(ctx context.Context, input CreateInput) (PurchaseOrder, error) {
	if err := validateCreate(input); err != nil {
		return PurchaseOrder{}, err
	}
	po := PurchaseOrder{
		PONumber:             strings.TrimSpace(input.PONumber),
		SupplierID:           input.SupplierID,
		OrderDate:            input.OrderDate,
		ExpectedDeliveryDate: input.ExpectedDeliveryDate,
		Status:               StatusDraft,
		Notes:                strings.TrimSpace(input.Notes),
		CreatedBy:            actorPtr(input.ActorID),
	}
	if po.PONumber == "" {
		po.PONumber = generateNumber("PO", s.now())
	}
	if po.OrderDate.IsZero() {
		po.OrderDate = s.now()
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.InsertPO(ctx, po)
		if err != nil {
			return err
		}
		for _, in := range input.Items {
			item, err := tx.InsertItem(ctx, Item{
				POID:            po.ID,
				ProductID:       in.ProductID,
				VariantID:       in.VariantID,
				QuantityOrdered: in.QuantityOrdered,
				UnitCost:        in.UnitCost,
				TaxRate:         in.TaxRate,
				Notes:           strings.TrimSpace(in.Notes),
			})
			if err != nil {
				return err
			}
			po.Items = append(po.Items, item)
		}
		_, err = tx.AppendHistory(ctx, HistoryEntry{POID: po.ID, Status: StatusDraft, Notes: "Purchase order created", CreatedBy: actorPtr(input.ActorID)})
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_CREATE", po.ID, map[string]any{"number": po.PONumber, "items": len(po.Items)})
	return po, nil
}

// ReceiveItems books delivered quantities into stock at the receiving location
// and recomputes the PO status. The whole batch fails if any line would exceed
// its ordered quantity.
func (s *Service) ReceiveItems(ctx context.Context, poID int64, input ReceiveInput) (PurchaseOrder, error) {
	lines, err := normalizeLines(input)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if input.IdempotencyKey != "" {
		id, ok, err := s.repo.FindIdempotent(ctx, ScopeReceive, input.IdempotencyKey)
		if err != nil {
			return PurchaseOrder{}, err
		}
		if ok && id != poID {
			return PurchaseOrder{}, shared.ErrIdempotencyKeyReused
		}
		if ok {
			return s.repo.GetPO(ctx, id)
		}
	}

	var (
		po       PurchaseOrder
		replayed bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		// A duplicate may have committed while this request waited on the PO lock.
		if input.IdempotencyKey != "" {
			id, ok, err := tx.FindIdempotent(ctx, ScopeReceive, input.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok && id != po.ID {
				return shared.ErrIdempotencyKeyReused
			}
			if ok {
				replayed = true
				po.Items, err = tx.ListItems(ctx, po.ID)
				return err
			}
		}
		if !po.Status.CanReceive() {
			return invalidState("cannot receive items for a %s purchase order", po.Status)
		}
		ledger := inventory.NewLedger(tx.Stock())
		ref := strconv.FormatInt(po.ID, 10)
		notes := fmt.Sprintf("PO receive #%d", po.ID)
		if input.Notes != "" {
			notes += ": " + input.Notes
		}
		for _, line := range lines {
			item, err := tx.LockItem(ctx, po.ID, line.POItemID)
			if err != nil {
				return err
			}
			if line.Quantity.GreaterThan(item.Remaining()) {
				return &OverReceiptError{
					POItemID:  item.ID,
					Ordered:   item.QuantityOrdered,
					Received:  item.QuantityReceived,
					Requested: line.Quantity,
				}
			}
			if err := tx.SetReceived(ctx, item.ID, item.QuantityReceived.Add(line.Quantity)); err != nil {
				return err
			}
			key := inventory.StockKey{ProductID: item.ProductID, VariantID: item.VariantID, LocationID: input.LocationID}
			if _, err := ledger.Receive(ctx, key, line.Quantity, item.UnitCost, inventory.Movement{
				ReferenceType: ReferenceType,
				ReferenceID:   ref,
				Notes:         notes,
				CreatedBy:     input.ActorID,
			}, true); err != nil {
				return err
			}
		}
		po.Items, err = tx.ListItems(ctx, po.ID)
		if err != nil {
			return err
		}
		if next := deriveStatus(po.Items, po.Status); next != po.Status {
			if err := tx.UpdateStatus(ctx, po.ID, next); err != nil {
				return err
			}
			if _, err := tx.AppendHistory(ctx, HistoryEntry{
				POID:      po.ID,
				Status:    next,
				Notes:     "Status updated after receiving items",
				CreatedBy: actorPtr(input.ActorID),
			}); err != nil {
				return err
			}
			po.Status = next
		}
		return tx.ClaimIdempotencyKey(ctx, ScopeReceive, input.IdempotencyKey, ref)
	})
	if err != nil {
		if s.metrics != nil && errors.Is(err, ErrOverReceipt) {
			s.metrics.POReceipt("rejected")
		}
		return PurchaseOrder{}, err
	}
	if replayed {
		return po, nil
	}
	if s.metrics != nil {
		s.metrics.POReceipt(string(po.Status))
	}
	s.recordAudit(ctx, input.ActorID, "PO_RECEIVE", po.ID, map[string]any{
		"location_id": input.LocationID,
		"lines":       len(lines),
		"status":      string(po.Status),
	})
	return po, nil
}

// UpdateStatus applies a manual status change and records it in history.
func (s *Service) UpdateStatus(ctx context.Context, poID int64, status Status, actorID int64, notes string) (PurchaseOrder, error) {
	if !status.Valid() {
		return PurchaseOrder{}, shared.ValidationError("procurement: unknown status %q", status)
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		notes = "Status changed to " + string(status)
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if !po.Status.CanSet(status) {
			return invalidState("purchase order cannot move from %s to %s", po.Status, status)
		}
		if err := tx.UpdateStatus(ctx, po.ID, status); err != nil {
			return err
		}
		if _, err := tx.AppendHistory(ctx, HistoryEntry{POID: po.ID, Status: status, Notes: notes, CreatedBy: actorPtr(actorID)}); err != nil {
			return err
		}
		po.Status = status
		po.Items, err = tx.ListItems(ctx, po.ID)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "PO_STATUS", po.ID, map[string]any{"status": string(status)})
	return po, nil
}

// Get returns a purchase order with its lines.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

// List returns purchase orders matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.ValidationError("procurement: unknown status %q", filter.Status)
	}
	return s.repo.ListPOs(ctx, filter)
}

// History returns the status changes of a purchase order, oldest first.
func (s *Service) History(ctx context.Context, id int64) ([]HistoryEntry, error) {
	if _, err := s.repo.GetPO(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

// deriveStatus computes the status implied by received quantities.
func deriveStatus(items []Item, current Status) Status {
	if len(items) == 0 {
		return current
	}
	complete, touched := 0, 0
	for _, it := range items {
		if it.QuantityReceived.GreaterThanOrEqual(it.QuantityOrdered) {
			complete++
		}
		if it.QuantityReceived.IsPositive() {
			touched++
		}
	}
	switch {
	case complete == len(items):
		return StatusCompleted
	case touched > 0:
		return StatusPartiallyReceived
	}
	return current
}

// normalizeLines merges duplicate lines and orders them by item id for locking.
func normalizeLines(input ReceiveInput) ([]ReceiveLine, error) {
	if input.LocationID <= 0 {
		return nil, shared.ValidationError("procurement: receiving location required")
	}
	if len(input.Lines) == 0 {
		return nil, shared.ValidationError("procurement: at least one line required")
	}
	var out []ReceiveLine
	for _, line := range input.Lines {
		if line.POItemID <= 0 {
			return nil, shared.ValidationError("procurement: po item id required")
		}
		if !inventory.ValidQuantity(line.Quantity) {
			return nil, shared.ValidationError("procurement: received quantity must be positive with at most %d decimal places", inventory.QuantityScale)
		}
		idx := slices.IndexFunc(out, func(l ReceiveLine) bool { return l.POItemID == line.POItemID })
		if idx >= 0 {
			out[idx].Quantity = out[idx].Quantity.Add(line.Quantity)
			continue
		}
		out = append(out, line)
	}
	slices.SortFunc(out, func(a, b ReceiveLine) int { return cmp.Compare(a.POItemID, b.POItemID) })
	return out, nil
}

func validateCreate(input CreateInput) error {
	if input.SupplierID <= 0 {
		return shared.ValidationError("procurement: supplier required")
	}
	if len(input.Items) == 0 {
		return shared.ValidationError("procurement: at least one item required")
	}
	for i, it := range input.Items {
		switch {
		case it.ProductID <= 0:
			return shared.ValidationError("procurement: item %d requires product", i)
		case !inventory.ValidQuantity(it.QuantityOrdered):
			return shared.ValidationError("procurement: item %d quantity must be positive with at most %d decimal places", i, inventory.QuantityScale)
		case it.UnitCost.IsNegative():
			return shared.ValidationError("procurement: item %d unit cost must not be negative", i)
		case it.TaxRate.IsNegative() || it.TaxRate.GreaterThan(hundred):
			return shared.ValidationError("procurement: item %d tax rate must be between 0 and 100", i)
		}
	}
	if input.ExpectedDeliveryDate != nil && !input.OrderDate.IsZero() && input.ExpectedDeliveryDate.Before(input.OrderDate) {
		return shared.ValidationError("procurement: expected delivery precedes order date")
	}
	return nil
}

func invalidState(format string, args ...any) error {
	return &shared.CodedError{
		Kind:    ErrInvalidState.Kind,
		Code:    ErrInvalidState.Code,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrInvalidState,
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "purchase_order", EntityID: strconv.FormatInt(entityID, 10), Meta: meta})
}

func generateNumber(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", prefix, at.Format("20060102"), at.UnixNano()%1_000_000)
}

func actorPtr(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
