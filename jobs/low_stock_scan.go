package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/billiard-pos/billiard-pos/internal/inventory"
	jobmetrics "github.com/billiard-pos/billiard-pos/internal/jobs"
	"github.com/billiard-pos/billiard-pos/internal/notify"
)

// LowStockSource lists stock records needing replenishment.
type LowStockSource interface {
	LowStock(ctx context.Context, threshold *decimal.Decimal) ([]inventory.LowStockItem, error)
}

// Notifier delivers events after the scan.
type Notifier interface {
	Emit(ctx context.Context, evt notify.Event)
}

// LowStockScanJob publishes an inventory:low_stock event per record at or
// below its threshold.
type LowStockScanJob struct {
	Inventory LowStockSource
	Notifier  Notifier
	Threshold *decimal.Decimal
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewLowStockScanJob wires dependencies for the scan handler. A nil threshold
// falls back to each product's min_stock_level.
func NewLowStockScanJob(source LowStockSource, notifier Notifier, threshold *decimal.Decimal, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{
		Inventory: source,
		Notifier:  notifier,
		Threshold: threshold,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes low-stock scan tasks.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	threshold := j.Threshold
	if payload.Threshold != nil {
		threshold = payload.Threshold
	}

	tracker := j.metrics().Track(TaskLowStockScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	items, err := j.Inventory.LowStock(ctx, threshold)
	if err != nil {
		resultErr = err
		logger.Error("list low stock", slog.Any("error", err))
		return resultErr
	}

	now := j.now()
	for _, item := range items {
		limit := item.MinStockLevel
		if threshold != nil {
			limit = *threshold
		}
		if j.Notifier != nil {
			j.Notifier.Emit(ctx, notify.NewLowStockEvent(item.ID, item.ProductID, item.VariantID, item.LocationID, item.Quantity, limit, now))
		}
	}
	j.metrics().AddItems(TaskLowStockScan, int64(len(items)))
	logger.Info("completed low stock scan", slog.Int("alerts", len(items)))
	return resultErr
}

func (j *LowStockScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics()
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *LowStockScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
