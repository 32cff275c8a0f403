package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/billiard-pos/billiard-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	GetRecord(ctx context.Context, key StockKey) (StockRecord, error)
	ListHistory(ctx context.Context, filter HistoryFilter) ([]StockTransaction, error)
	ListLowStock(ctx context.Context, threshold *decimal.Decimal) ([]LowStockItem, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives rejection counts.
type MetricsPort interface {
	StockRejection(source string)
}

// Service coordinates manual stock operations.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics}
}

// Adjust applies a signed correction. Positive quantities are booked as
// adjustment_in, negative ones as adjustment_out and may not overdraw stock.
func (s *Service) Adjust(ctx context.Context, input AdjustmentInput) (StockRecord, error) {
	if input.ProductID <= 0 || input.LocationID <= 0 {
		return StockRecord{}, shared.ValidationError("inventory: product and location required")
	}
	if !ValidQuantity(input.Quantity.Abs()) {
		return StockRecord{}, ErrInvalidQuantity
	}
	key := StockKey{ProductID: input.ProductID, VariantID: input.VariantID, LocationID: input.LocationID}
	mv := Movement{
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		Notes:         input.Notes,
		CreatedBy:     input.ActorID,
		Counted:       true,
	}
	if mv.ReferenceType == "" {
		mv.ReferenceType = "adjustment"
	}

	var rec StockRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		ledger := NewLedger(store)
		var err error
		if input.Quantity.IsPositive() {
			mv.Type = TransactionAdjustmentIn
			rec, err = ledger.Restore(ctx, key, input.Quantity, mv)
		} else {
			mv.Type = TransactionAdjustmentOut
			rec, err = ledger.ReserveAndDeduct(ctx, key, input.Quantity.Abs(), mv)
		}
		return err
	})
	if err != nil {
		s.observeRejection(err, "adjustment")
		return StockRecord{}, err
	}
	s.recordAudit(ctx, input.ActorID, "INVENTORY_ADJUST", rec.ID, map[string]any{
		"product_id":  input.ProductID,
		"location_id": input.LocationID,
		"quantity":    input.Quantity.String(),
	})
	return rec, nil
}

// Transfer moves stock between two locations in one transaction. Both rows are
// locked in key order before either is changed.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if input.ProductID <= 0 || input.FromLocationID <= 0 || input.ToLocationID <= 0 {
		return TransferResult{}, shared.ValidationError("inventory: product and both locations required")
	}
	if input.FromLocationID == input.ToLocationID {
		return TransferResult{}, ErrSameLocation
	}
	if !ValidQuantity(input.Quantity) {
		return TransferResult{}, ErrInvalidQuantity
	}
	from := StockKey{ProductID: input.ProductID, VariantID: input.VariantID, LocationID: input.FromLocationID}
	to := StockKey{ProductID: input.ProductID, VariantID: input.VariantID, LocationID: input.ToLocationID}
	result := TransferResult{ReferenceID: uuid.NewString()}

	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		keys := []StockKey{from, to}
		SortKeys(keys)
		for _, k := range keys {
			if _, err := store.LockRecord(ctx, k); err != nil && !errors.Is(err, ErrRecordNotFound) {
				return err
			}
		}
		ledger := NewLedger(store)
		var err error
		result.From, err = ledger.ReserveAndDeduct(ctx, from, input.Quantity, Movement{
			Type:          TransactionTransfer,
			ReferenceType: "transfer",
			ReferenceID:   result.ReferenceID,
			Notes:         transferNote("to", input.ToLocationID, input.Notes),
			CreatedBy:     input.ActorID,
		})
		if err != nil {
			return err
		}
		result.To, err = ledger.Restore(ctx, to, input.Quantity, Movement{
			Type:          TransactionTransfer,
			ReferenceType: "transfer",
			ReferenceID:   result.ReferenceID,
			Notes:         transferNote("from", input.FromLocationID, input.Notes),
			CreatedBy:     input.ActorID,
		})
		return err
	})
	if err != nil {
		s.observeRejection(err, "transfer")
		return TransferResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "INVENTORY_TRANSFER", result.From.ID, map[string]any{
		"reference_id":     result.ReferenceID,
		"product_id":       input.ProductID,
		"from_location_id": input.FromLocationID,
		"to_location_id":   input.ToLocationID,
		"quantity":         input.Quantity.String(),
	})
	return result, nil
}

// GetRecord returns the current record for key.
func (s *Service) GetRecord(ctx context.Context, key StockKey) (StockRecord, error) {
	if key.ProductID <= 0 || key.LocationID <= 0 {
		return StockRecord{}, shared.ValidationError("inventory: product and location required")
	}
	return s.repo.GetRecord(ctx, key)
}

// History lists the transaction log of a product.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]StockTransaction, error) {
	if filter.ProductID <= 0 {
		return nil, shared.ValidationError("inventory: product required")
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, shared.ValidationError("inventory: unknown transaction type %q", filter.Type)
	}
	return s.repo.ListHistory(ctx, filter)
}

// LowStock lists records at or below threshold, or the product minimum when nil.
func (s *Service) LowStock(ctx context.Context, threshold *decimal.Decimal) ([]LowStockItem, error) {
	if threshold != nil && threshold.IsNegative() {
		return nil, shared.ValidationError("inventory: threshold must not be negative")
	}
	return s.repo.ListLowStock(ctx, threshold)
}

func (s *Service) observeRejection(err error, source string) {
	if s.metrics == nil {
		return
	}
	if _, ok := AsInsufficientStock(err); ok {
		s.metrics.StockRejection(source)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "inventory", EntityID: strconv.FormatInt(entityID, 10), Meta: meta})
}

func compareKeys(a, b StockKey) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

// SortKeys orders keys in lock order.
func SortKeys(keys []StockKey) {
	slices.SortFunc(keys, compareKeys)
}

func transferNote(direction string, location int64, notes string) string {
	if notes == "" {
		return fmt.Sprintf("Transfer %s location %d", direction, location)
	}
	return fmt.Sprintf("Transfer %s location %d: %s", direction, location, notes)
}
