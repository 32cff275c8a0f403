// Package notify delivers realtime events to floor and kitchen screens after a
// change has been committed.
package notify

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event names published to subscribers.
const (
	OrderCreated   = "order:created"
	OrderCompleted = "order:completed"
	OrderCancelled = "order:cancelled"
	LowStock       = "inventory:low_stock"
)

// Event is the payload delivered to subscribers.
type Event struct {
	EventID     uuid.UUID        `json:"eventId"`
	Name        string           `json:"event"`
	ID          int64            `json:"id,omitempty"`
	TableID     *int64           `json:"tableId"`
	Status      string           `json:"status,omitempty"`
	TotalAmount *decimal.Decimal `json:"totalAmount,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Data        map[string]any   `json:"data,omitempty"`
}

// NewOrderEvent builds an order lifecycle event.
func NewOrderEvent(name string, orderID int64, tableID *int64, status string, total decimal.Decimal, at time.Time) Event {
	return Event{
		EventID:     uuid.New(),
		Name:        name,
		ID:          orderID,
		TableID:     tableID,
		Status:      status,
		TotalAmount: &total,
		Timestamp:   at.UTC(),
	}
}

// NewLowStockEvent builds an inventory alert for one stock record.
func NewLowStockEvent(inventoryID, productID int64, variantID *int64, locationID int64, quantity, threshold decimal.Decimal, at time.Time) Event {
	data := map[string]any{
		"productId":  productID,
		"locationId": locationID,
		"quantity":   quantity.String(),
		"threshold":  threshold.String(),
	}
	if variantID != nil {
		data["variantId"] = *variantID
	}
	return Event{
		EventID:   uuid.New(),
		Name:      LowStock,
		ID:        inventoryID,
		Timestamp: at.UTC(),
		Data:      data,
	}
}
