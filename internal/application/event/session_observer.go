// Package event holds handlers that react to checkout domain events.
package event

import (
	"context"
	"fmt"

	"github.com/ucp/merchant/internal/domain/checkout"
	"github.com/ucp/merchant/internal/domain/shared"
	"github.com/ucp/merchant/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// SessionObserver writes an audit record for every session mutation. The
// record carries the request correlation fields so a session's history can be
// reconstructed from the log stream.
type SessionObserver struct {
	logger *zap.Logger
}

// NewSessionObserver creates an observer writing to logger
func NewSessionObserver(l *zap.Logger) *SessionObserver {
	if l == nil {
		l = zap.NewNop()
	}
	return &SessionObserver{logger: l.Named("checkout.audit")}
}

// EventTypes implements shared.EventHandler
func (o *SessionObserver) EventTypes() []string {
	return []string{
		checkout.EventTypeSessionCreated,
		checkout.EventTypeSessionUpdated,
		checkout.EventTypeSessionCompleted,
		checkout.EventTypeSessionFailed,
	}
}

// Handle implements shared.EventHandler
func (o *SessionObserver) Handle(ctx context.Context, event shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_type", event.EventType()),
		zap.String("event_id", event.EventID().String()),
		zap.String("session_id", event.AggregateID().String()),
		zap.Time("occurred_at", event.OccurredAt()),
	}
	if agent := logger.GetAgent(ctx); agent != "" {
		fields = append(fields, zap.String("ucp_agent", agent))
	}

	log := logger.With(ctx, o.logger)
	switch e := event.(type) {
	case *checkout.SessionCreatedEvent:
		log.Info("session created", append(fields,
			zap.String("currency", e.Currency),
			zap.Int64("amount", e.Amount),
			zap.Int("line_items", e.LineItems),
		)...)
	case *checkout.SessionUpdatedEvent:
		log.Info("session updated", append(fields,
			zap.String("status", e.Status.String()),
			zap.Int("sequence", e.Sequence),
			zap.Int64("amount", e.Amount),
		)...)
	case *checkout.SessionCompletedEvent:
		log.Info("session completed", append(fields,
			zap.String("order_id", e.OrderID),
			zap.String("transaction_id", e.TransactionID),
			zap.Int64("amount", e.Amount),
		)...)
	case *checkout.SessionFailedEvent:
		log.Warn("session failed", append(fields,
			zap.String("kind", e.Kind),
			zap.String("reason", e.Reason),
			zap.Bool("transient", e.Transient),
		)...)
	default:
		return fmt.Errorf("session observer: unexpected event %T", event)
	}
	return nil
}

var _ shared.EventHandler = (*SessionObserver)(nil)
