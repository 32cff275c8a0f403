package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/billiard-pos/billiard-pos/internal/inventory"
	jobmetrics "github.com/billiard-pos/billiard-pos/internal/jobs"
	"github.com/billiard-pos/billiard-pos/internal/notify"
)

type stubLowStock struct {
	items []inventory.LowStockItem
	err   error
	got   *decimal.Decimal
}

func (s *stubLowStock) LowStock(_ context.Context, threshold *decimal.Decimal) ([]inventory.LowStockItem, error) {
	s.got = threshold
	return s.items, s.err
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureNotifier) Emit(_ context.Context, evt notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func lowItem(id, product int64, qty, minLevel string) inventory.LowStockItem {
	return inventory.LowStockItem{
		StockRecord: inventory.StockRecord{
			ID:         id,
			ProductID:  product,
			LocationID: 1,
			Quantity:   decimal.RequireFromString(qty),
		},
		MinStockLevel: decimal.RequireFromString(minLevel),
	}
}

func TestLowStockScanEmitsPerRecord(t *testing.T) {
	source := &stubLowStock{items: []inventory.LowStockItem{lowItem(1, 10, "2", "5"), lowItem(2, 11, "0", "3")}}
	notifier := &captureNotifier{}
	job := NewLowStockScanJob(source, notifier, nil, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewLowStockScanTask(nil)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Nil(t, source.got)
	require.Len(t, notifier.events, 2)
	evt := notifier.events[0]
	require.Equal(t, notify.LowStock, evt.Name)
	require.Equal(t, int64(1), evt.ID)
	require.Equal(t, "2", evt.Data["quantity"])
	require.Equal(t, "5", evt.Data["threshold"])
}

func TestLowStockScanPayloadOverridesThreshold(t *testing.T) {
	configured := decimal.RequireFromString("4")
	override := decimal.RequireFromString("10")
	source := &stubLowStock{items: []inventory.LowStockItem{lowItem(1, 10, "7", "5")}}
	notifier := &captureNotifier{}
	job := NewLowStockScanJob(source, notifier, &configured, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewLowStockScanTask(&override)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, source.got.Equal(override))
	require.Equal(t, "10", notifier.events[0].Data["threshold"])
}

func TestLowStockScanFailures(t *testing.T) {
	source := &stubLowStock{err: errors.New("db down")}
	job := NewLowStockScanJob(source, &captureNotifier{}, nil, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewLowStockScanTask(nil)
	require.NoError(t, err)
	require.EqualError(t, job.Handle(context.Background(), task), "db down")

	bad := asynq.NewTask(TaskLowStockScan, []byte("{"))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

type stubPurger struct {
	retention time.Duration
	purged    int64
}

func (s *stubPurger) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.retention = olderThan
	return s.purged, nil
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	purger := &stubPurger{purged: 7}
	job := NewIdempotencyCleanupJob(purger, 72*time.Hour, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, 72*time.Hour, purger.retention)

	task, err := NewIdempotencyCleanupTask(2 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 24*time.Hour, purger.retention, "retention is floored at one day")
}

func TestBuildTask(t *testing.T) {
	task, err := BuildTask(TaskLowStockScan, 0)
	require.NoError(t, err)
	require.Equal(t, TaskLowStockScan, task.Type())

	task, err = BuildTask(TaskIdempotencyCleanup, 48*time.Hour)
	require.NoError(t, err)
	var payload IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, 48, payload.RetentionHours)

	_, err = BuildTask("mail:send", 0)
	require.ErrorIs(t, err, ErrUnknownTask)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthEndpoint(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Route("/jobs", h.MountRoutes)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rec
	}

	rec := serve(NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1}}, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Pending)
	require.Equal(t, 1, body.Retry)

	rec = serve(NewHandler(stubInspector{err: errors.New("redis down")}, nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(NewHandler(nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
