package checkout

import (
	"encoding/json"

	"github.com/ucp/merchant/internal/domain/shared"
)

// Request errors raised by the protocol layer rather than the aggregate
var (
	ErrIdempotencyKeyRequired = shared.NewDomainError("IDEMPOTENCY_KEY_REQUIRED", "An idempotency-key header is required")
	ErrIdempotencyKeyReused   = shared.NewDomainError("IDEMPOTENCY_KEY_REUSED", "The idempotency key was already used with a different request")
	ErrSessionIDMismatch      = shared.NewDomainError("SESSION_ID_MISMATCH", "Request body id does not match the session in the path")
	ErrPaymentRequired        = shared.NewDomainError("PAYMENT_REQUIRED", "Update must resend the current payment")
)

// SessionError is a failed call that still has a session to show, such as a
// settlement that moved the session to FAILED
type SessionError struct {
	Err      error
	Checkout json.RawMessage
}

// Error implements the error interface
func (e *SessionError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying cause
func (e *SessionError) Unwrap() error {
	return e.Err
}
