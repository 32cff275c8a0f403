package notify

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Publisher delivers one event to a transport.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// LogPublisher writes events to the log; used in development.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher constructs LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event payload.
func (p *LogPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "notify", slog.String("event", evt.Name), slog.String("payload", string(body)))
	return nil
}
