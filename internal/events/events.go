package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/vidshare/backend/internal/logging"
)

const (
	TypeAccountCreated = "AccountCreated"
	TypeVideoIngested  = "VideoIngested"
)

// Event is a domain notification published only after its transaction commits.
type Event struct {
	Type        string            `json:"type"`
	AggregateID string            `json:"aggregateId"`
	OccurredAt  time.Time         `json:"occurredAt"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Sink receives committed domain events.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// LogSink writes events to the structured log. It is the fallback when no
// broker is configured.
type LogSink struct {
	Logger *slog.Logger
}

// Publish logs the event.
func (s LogSink) Publish(ctx context.Context, event Event) error {
	logger := s.Logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	logger.Info("domain event",
		slog.String("event_type", event.Type),
		slog.String("aggregate_id", event.AggregateID),
		slog.Time("occurred_at", event.OccurredAt),
	)
	return nil
}
