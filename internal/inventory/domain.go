package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/billiard-pos/billiard-pos/internal/shared"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	TransactionAdjustmentIn      TransactionType = "adjustment_in"
	TransactionAdjustmentOut     TransactionType = "adjustment_out"
	TransactionTransfer          TransactionType = "transfer"
	TransactionPurchase          TransactionType = "purchase"
	TransactionOrderFulfillment  TransactionType = "order_fulfillment"
	TransactionOrderCancellation TransactionType = "order_cancellation"
)

// Valid reports whether t is a known movement type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionAdjustmentIn, TransactionAdjustmentOut, TransactionTransfer,
		TransactionPurchase, TransactionOrderFulfillment, TransactionOrderCancellation:
		return true
	}
	return false
}

func (t TransactionType) decrements() bool {
	return t == TransactionOrderFulfillment || t == TransactionAdjustmentOut || t == TransactionTransfer
}

func (t TransactionType) increments() bool {
	return t == TransactionOrderCancellation || t == TransactionAdjustmentIn || t == TransactionTransfer || t == TransactionPurchase
}

// StockKey identifies a stock record. A nil VariantID is its own key and only
// matches records without a variant.
type StockKey struct {
	ProductID  int64
	VariantID  *int64
	LocationID int64
}

// Equal compares keys with null-aware variant matching.
func (k StockKey) Equal(o StockKey) bool {
	if k.ProductID != o.ProductID || k.LocationID != o.LocationID {
		return false
	}
	if k.VariantID == nil || o.VariantID == nil {
		return k.VariantID == nil && o.VariantID == nil
	}
	return *k.VariantID == *o.VariantID
}

// Less orders keys by product, variant (nil first) and location. Locks are
// always taken in this order.
func (k StockKey) Less(o StockKey) bool {
	if k.ProductID != o.ProductID {
		return k.ProductID < o.ProductID
	}
	kv, ov := variantOrd(k.VariantID), variantOrd(o.VariantID)
	if kv != ov {
		return kv < ov
	}
	return k.LocationID < o.LocationID
}

// String renders the key for logs and error messages.
func (k StockKey) String() string {
	if k.VariantID == nil {
		return fmt.Sprintf("product %d at location %d", k.ProductID, k.LocationID)
	}
	return fmt.Sprintf("product %d variant %d at location %d", k.ProductID, *k.VariantID, k.LocationID)
}

func variantOrd(v *int64) int64 {
	if v == nil {
		return -1
	}
	return *v
}

// StockRecord is the on-hand quantity of one key.
type StockRecord struct {
	ID            int64           `json:"id"`
	ProductID     int64           `json:"productId"`
	VariantID     *int64          `json:"variantId,omitempty"`
	LocationID    int64           `json:"locationId"`
	Quantity      decimal.Decimal `json:"quantity"`
	LastCountedAt *time.Time      `json:"lastCountedAt,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Key returns the record identity.
func (r StockRecord) Key() StockKey {
	return StockKey{ProductID: r.ProductID, VariantID: r.VariantID, LocationID: r.LocationID}
}

// StockTransaction is the append-only log row paired with every record mutation.
type StockTransaction struct {
	ID             int64           `json:"id"`
	Type           TransactionType `json:"transactionType"`
	ReferenceType  string          `json:"referenceType,omitempty"`
	ReferenceID    string          `json:"referenceId,omitempty"`
	ProductID      int64           `json:"productId"`
	VariantID      *int64          `json:"variantId,omitempty"`
	FromLocationID *int64          `json:"fromLocationId,omitempty"`
	ToLocationID   *int64          `json:"toLocationId,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitCost       decimal.Decimal `json:"unitCost"`
	Notes          string          `json:"notes,omitempty"`
	CreatedBy      *int64          `json:"createdBy,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Movement describes why a record changes. It becomes the StockTransaction row.
type Movement struct {
	Type          TransactionType
	ReferenceType string
	ReferenceID   string
	UnitCost      decimal.Decimal
	Notes         string
	CreatedBy     int64
	// Counted stamps last_counted_at on the record (manual counts and adjustments).
	Counted bool
}

// QuantityScale is the number of fractional digits stored for stock quantities.
const QuantityScale = 3

// ValidQuantity reports whether q is positive and storable without rounding.
func ValidQuantity(q decimal.Decimal) bool {
	return q.IsPositive() && q.Equal(q.Truncate(QuantityScale))
}

var (
	// ErrRecordNotFound indicates there is no stock record for a key.
	ErrRecordNotFound = shared.NewCodedError(shared.ErrNotFound, "not_found", "inventory record not found")
	// ErrInvalidQuantity indicates a movement amount that is not positive or
	// carries more fractional digits than QuantityScale.
	ErrInvalidQuantity = shared.NewCodedError(shared.ErrValidation, "validation_failed", "inventory: quantity must be positive with at most 3 decimal places")
	// ErrInvalidMovement indicates a movement type used in the wrong direction.
	ErrInvalidMovement = shared.NewCodedError(shared.ErrValidation, "validation_failed", "inventory: movement type not allowed for this operation")
	// ErrSameLocation rejects transfers within one location.
	ErrSameLocation = shared.NewCodedError(shared.ErrValidation, "validation_failed", "inventory: source and destination location must differ")
	// ErrInsufficientStock is matched by every *InsufficientStockError.
	ErrInsufficientStock = shared.NewCodedError(shared.ErrBusinessRule, "insufficient_stock", "insufficient stock")
)

// InsufficientStockError reports a deduction that would drive a record negative.
type InsufficientStockError struct {
	Key       StockKey
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: required %s, available %s", e.Key, e.Required, e.Available)
}

// Unwrap lets errors.Is match ErrInsufficientStock and the business rule kind.
func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// ErrorCode returns the stable code.
func (e *InsufficientStockError) ErrorCode() string { return ErrInsufficientStock.Code }

// ErrorDetails exposes the shortfall to API clients.
func (e *InsufficientStockError) ErrorDetails() map[string]any {
	details := map[string]any{
		"productId":  e.Key.ProductID,
		"locationId": e.Key.LocationID,
		"required":   e.Required.String(),
		"available":  e.Available.String(),
	}
	if e.Key.VariantID != nil {
		details["variantId"] = *e.Key.VariantID
	}
	return details
}

// AsInsufficientStock unwraps err into an *InsufficientStockError.
func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var target *InsufficientStockError
	ok := errors.As(err, &target)
	return target, ok
}

// AdjustmentInput describes a manual signed stock correction.
type AdjustmentInput struct {
	ProductID     int64
	VariantID     *int64
	LocationID    int64
	Quantity      decimal.Decimal
	ReferenceType string
	ReferenceID   string
	Notes         string
	ActorID       int64
}

// TransferInput describes a move of stock between two locations.
type TransferInput struct {
	ProductID      int64
	VariantID      *int64
	FromLocationID int64
	ToLocationID   int64
	Quantity       decimal.Decimal
	Notes          string
	ActorID        int64
}

// TransferResult holds both sides of a transfer after commit.
type TransferResult struct {
	ReferenceID string      `json:"referenceId"`
	From        StockRecord `json:"from"`
	To          StockRecord `json:"to"`
}

// HistoryFilter narrows the transaction log listing.
type HistoryFilter struct {
	ProductID  int64
	VariantID  *int64
	LocationID *int64
	Type       TransactionType
	Limit      int
	Offset     int
}

// LowStockItem is a record at or below its reorder threshold.
type LowStockItem struct {
	StockRecord
	ProductName   string          `json:"productName"`
	MinStockLevel decimal.Decimal `json:"minStockLevel"`
}
