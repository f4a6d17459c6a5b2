package checkout

import (
	"github.com/google/uuid"
	"github.com/ucp/merchant/internal/domain/shared"
)

// Aggregate type constant
const AggregateTypeSession = "CheckoutSession"

// Event type constants
const (
	EventTypeSessionCreated   = "CheckoutSessionCreated"
	EventTypeSessionUpdated   = "CheckoutSessionUpdated"
	EventTypeSessionCompleted = "CheckoutSessionCompleted"
	EventTypeSessionFailed    = "CheckoutSessionFailed"
)

// SessionCreatedEvent is raised when a new session is created
type SessionCreatedEvent struct {
	shared.BaseDomainEvent
	SessionID uuid.UUID `json:"session_id"`
	Currency  string    `json:"currency"`
	Amount    int64     `json:"amount"`
	LineItems int       `json:"line_items"`
}

// NewSessionCreatedEvent creates a new SessionCreatedEvent
func NewSessionCreatedEvent(s *Session) *SessionCreatedEvent {
	return &SessionCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSessionCreated, AggregateTypeSession, s.ID),
		SessionID:       s.ID,
		Currency:        s.Currency.String(),
		Amount:          s.Amount(),
		LineItems:       len(s.LineItems),
	}
}

// SessionUpdatedEvent is raised after an accepted update
type SessionUpdatedEvent struct {
	shared.BaseDomainEvent
	SessionID uuid.UUID `json:"session_id"`
	Status    Status    `json:"status"`
	Sequence  int       `json:"sequence"`
	Amount    int64     `json:"amount"`
}

// NewSessionUpdatedEvent creates a new SessionUpdatedEvent
func NewSessionUpdatedEvent(s *Session) *SessionUpdatedEvent {
	return &SessionUpdatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSessionUpdated, AggregateTypeSession, s.ID),
		SessionID:       s.ID,
		Status:          s.Status,
		Sequence:        len(s.Totals),
		Amount:          s.Amount(),
	}
}

// SessionCompletedEvent is raised when settlement succeeded
type SessionCompletedEvent struct {
	shared.BaseDomainEvent
	SessionID     uuid.UUID `json:"session_id"`
	OrderID       string    `json:"order_id"`
	TransactionID string    `json:"transaction_id"`
	Amount        int64     `json:"amount"`
}

// NewSessionCompletedEvent creates a new SessionCompletedEvent
func NewSessionCompletedEvent(s *Session) *SessionCompletedEvent {
	e := &SessionCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSessionCompleted, AggregateTypeSession, s.ID),
		SessionID:       s.ID,
		Amount:          s.Amount(),
	}
	if s.Order != nil {
		e.OrderID = s.Order.ID
		e.TransactionID = s.Order.Metadata[MetaTransactionID]
	}
	return e
}

// SessionFailedEvent is raised when settlement failed
type SessionFailedEvent struct {
	shared.BaseDomainEvent
	SessionID uuid.UUID `json:"session_id"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason"`
	Transient bool      `json:"transient"`
}

// NewSessionFailedEvent creates a new SessionFailedEvent
func NewSessionFailedEvent(s *Session) *SessionFailedEvent {
	e := &SessionFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSessionFailed, AggregateTypeSession, s.ID),
		SessionID:       s.ID,
	}
	if s.Failure != nil {
		e.Kind = s.Failure.Kind
		e.Reason = s.Failure.Reason
		e.Transient = s.Failure.Transient
	}
	return e
}
