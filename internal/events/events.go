package events

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seyio/otc-desk/internal/observability"
)

// Type enumerates the lifecycle events the core emits.
type Type string

const (
	QuoteCreated   Type = "quote.created"
	QuoteAccepted  Type = "quote.accepted"
	QuoteRejected  Type = "quote.rejected"
	QuoteExpired   Type = "quote.expired"
	OrderCreated   Type = "order.created"
	OrderUpdated   Type = "order.updated"
	RatesRefreshed Type = "rates.refreshed"
)

// Event is the fire-and-forget notification payload. The core never depends
// on delivery succeeding.
type Event struct {
	Type     Type
	EntityID uuid.UUID
	UserID   uuid.UUID
	Fields   map[string]string
}

// Sink receives lifecycle events. Implementations must not block the caller.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// LogSink writes events to the structured log and counts them. It stands in
// for the downstream notification/audit pipeline.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, e Event) {
	fields := make([]zap.Field, 0, 3+len(e.Fields))
	fields = append(fields,
		zap.String("event", string(e.Type)),
		zap.String("entity_id", e.EntityID.String()),
		zap.String("user_id", e.UserID.String()),
	)
	for k, v := range e.Fields {
		fields = append(fields, zap.String(k, v))
	}
	s.logger.Info("domain_event", fields...)
	observability.IncrementEvent(string(e.Type))
}

// NopSink discards events; used in tests.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}
