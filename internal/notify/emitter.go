package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MetricsPort counts delivery results.
type MetricsPort interface {
	Notification(event string, err error)
}

// Emitter publishes events asynchronously. It must only be called after the
// originating transaction has committed; delivery failures are logged and
// never reach the caller.
type Emitter struct {
	publisher Publisher
	logger    *slog.Logger
	metrics   MetricsPort
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewEmitter constructs Emitter.
func NewEmitter(publisher Publisher, logger *slog.Logger, metrics MetricsPort, timeout time.Duration) *Emitter {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{publisher: publisher, logger: logger, metrics: metrics, timeout: timeout}
}

// Emit schedules delivery of evt and returns immediately. Delivery is detached
// from ctx cancellation and bounded by the emitter timeout.
func (e *Emitter) Emit(ctx context.Context, evt Event) {
	if e == nil || e.publisher == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(detached, e.timeout)
		defer cancel()
		err := e.publisher.Publish(ctx, evt)
		if e.metrics != nil {
			e.metrics.Notification(evt.Name, err)
		}
		if err != nil {
			e.logger.Warn("notification failed",
				slog.String("event", evt.Name),
				slog.Int64("id", evt.ID),
				slog.Any("error", err),
			)
		}
	}()
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (e *Emitter) Wait(ctx context.Context) error {
	if e == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
