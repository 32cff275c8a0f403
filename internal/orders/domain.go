package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/billiard-pos/billiard-pos/internal/shared"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// CanTransition reports whether an order may move from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusCompleted || next == StatusCancelled
	case StatusCompleted:
		return next == StatusCancelled
	}
	return false
}

// DiscountType selects how DiscountAmount is applied.
type DiscountType string

const (
	DiscountNone       DiscountType = ""
	DiscountFixed      DiscountType = "fixed"
	DiscountPercentage DiscountType = "percentage"
)

// Order is a customer order at a table or the counter.
type Order struct {
	ID                 int64           `json:"id"`
	TableID            *int64          `json:"tableId"`
	LocationID         int64           `json:"locationId"`
	UserID             *int64          `json:"userId,omitempty"`
	Status             Status          `json:"status"`
	Notes              string          `json:"notes,omitempty"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountAmount     decimal.Decimal `json:"discountAmount"`
	DiscountType       DiscountType    `json:"discountType,omitempty"`
	TotalAmount        decimal.Decimal `json:"totalAmount"`
	CompletedBy        *int64          `json:"completedBy,omitempty"`
	CompletedAt        *time.Time      `json:"completedAt,omitempty"`
	CancelledBy        *int64          `json:"cancelledBy,omitempty"`
	CancelledAt        *time.Time      `json:"cancelledAt,omitempty"`
	CancellationReason string          `json:"cancellationReason,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	Items              []Item          `json:"items"`
}

// Item is one menu line of an order.
type Item struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"orderId"`
	MenuItemID  int64           `json:"menuItemId"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Notes       string          `json:"notes,omitempty"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// CreateInput describes a new order.
type CreateInput struct {
	TableID        *int64
	LocationID     int64
	Notes          string
	DiscountAmount decimal.Decimal
	DiscountType   DiscountType
	Items          []ItemInput
	ActorID        int64
	IdempotencyKey string
}

// ItemInput describes one requested line.
type ItemInput struct {
	MenuItemID int64
	Quantity   int64
	UnitPrice  decimal.Decimal
	Notes      string
}

// ListFilter narrows order listings.
type ListFilter struct {
	Status  Status
	TableID *int64
	Limit   int
	Offset  int
}

var (
	// ErrNotFound indicates a missing order.
	ErrNotFound = shared.NewCodedError(shared.ErrNotFound, "not_found", "order not found")
	// ErrInvalidState rejects a transition outside the order state machine.
	ErrInvalidState = shared.NewCodedError(shared.ErrBusinessRule, "invalid_order_state", "invalid order state transition")
	// ErrEmptyOrder rejects orders without lines.
	ErrEmptyOrder = shared.NewCodedError(shared.ErrValidation, "validation_failed", "order requires at least one item")
	// ErrReasonRequired rejects cancellations without a reason.
	ErrReasonRequired = shared.NewCodedError(shared.ErrValidation, "validation_failed", "cancellation reason required")
)
