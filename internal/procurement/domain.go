package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/billiard-pos/billiard-pos/internal/shared"
)

// Status is the lifecycle state of a purchase order.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPending           Status = "pending"
	StatusPartiallyReceived Status = "partially_received"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusPartiallyReceived, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further change is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanReceive reports whether goods may be booked against a PO in status s.
func (s Status) CanReceive() bool {
	return s.Valid() && !s.Terminal()
}

// CanSet reports whether a manual status change from s to next is allowed.
// partially_received and completed are derived from receipts only.
func (s Status) CanSet(next Status) bool {
	switch next {
	case StatusPending:
		return s == StatusDraft
	case StatusCancelled:
		return s.CanReceive()
	}
	return false
}

// PurchaseOrder is an order placed with a supplier.
type PurchaseOrder struct {
	ID                   int64      `json:"id"`
	PONumber             string     `json:"poNumber"`
	SupplierID           int64      `json:"supplierId"`
	OrderDate            time.Time  `json:"orderDate"`
	ExpectedDeliveryDate *time.Time `json:"expectedDeliveryDate,omitempty"`
	Status               Status     `json:"status"`
	Notes                string     `json:"notes,omitempty"`
	CreatedBy            *int64     `json:"createdBy,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
	Items                []Item     `json:"items"`
}

// Item is one purchase order line.
type Item struct {
	ID               int64           `json:"id"`
	POID             int64           `json:"poId"`
	ProductID        int64           `json:"productId"`
	VariantID        *int64          `json:"variantId,omitempty"`
	QuantityOrdered  decimal.Decimal `json:"quantityOrdered"`
	QuantityReceived decimal.Decimal `json:"quantityReceived"`
	UnitCost         decimal.Decimal `json:"unitCost"`
	TaxRate          decimal.Decimal `json:"taxRate"`
	Notes            string          `json:"notes,omitempty"`
}

// Remaining is the quantity still expected for the line.
func (it Item) Remaining() decimal.Decimal {
	return it.QuantityOrdered.Sub(it.QuantityReceived)
}

// HistoryEntry records one status change.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	POID      int64     `json:"poId"`
	Status    Status    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	CreatedBy *int64    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateInput describes a new purchase order.
type CreateInput struct {
	PONumber             string
	SupplierID           int64
	OrderDate            time.Time
	ExpectedDeliveryDate *time.Time
	Notes                string
	Items                []ItemInput
	ActorID              int64
}

// ItemInput describes one ordered line.
type ItemInput struct {
	ProductID       int64
	VariantID       *int64
	QuantityOrdered decimal.Decimal
	UnitCost        decimal.Decimal
	TaxRate         decimal.Decimal
	Notes           string
}

// ReceiveInput books delivered goods against a purchase order.
type ReceiveInput struct {
	LocationID     int64
	Lines          []ReceiveLine
	Notes          string
	ActorID        int64
	IdempotencyKey string
}

// ReceiveLine is the quantity delivered for one PO item.
type ReceiveLine struct {
	POItemID int64
	Quantity decimal.Decimal
}

// ListFilter narrows purchase order listings.
type ListFilter struct {
	Status     Status
	SupplierID int64
	Limit      int
	Offset     int
}

var (
	// ErrNotFound indicates a missing purchase order or line.
	ErrNotFound = shared.NewCodedError(shared.ErrNotFound, "not_found", "purchase order not found")
	// ErrInvalidState rejects actions outside the purchase order workflow.
	ErrInvalidState = shared.NewCodedError(shared.ErrBusinessRule, "invalid_purchase_order_state", "invalid purchase order state")
	// ErrOverReceipt rejects receipts beyond the ordered quantity.
	ErrOverReceipt = shared.NewCodedError(shared.ErrBusinessRule, "over_receipt", "received quantity exceeds ordered quantity")
)

// OverReceiptError carries the rejected line.
type OverReceiptError struct {
	POItemID  int64
	Ordered   decimal.Decimal
	Received  decimal.Decimal
	Requested decimal.Decimal
}

func (e *OverReceiptError) Error() string {
	return fmt.Sprintf("over receipt on item %d: ordered %s, received %s, requested %s",
		e.POItemID, e.Ordered, e.Received, e.Requested)
}

// Unwrap lets errors.Is match ErrOverReceipt.
func (e *OverReceiptError) Unwrap() error { return ErrOverReceipt }

// ErrorCode returns the stable code.
func (e *OverReceiptError) ErrorCode() string { return ErrOverReceipt.Code }

// ErrorDetails exposes the rejected line to API clients.
func (e *OverReceiptError) ErrorDetails() map[string]any {
	return map[string]any{
		"poItemId":  e.POItemID,
		"ordered":   e.Ordered.String(),
		"received":  e.Received.String(),
		"requested": e.Requested.String(),
		"remaining": e.Ordered.Sub(e.Received).String(),
	}
}
