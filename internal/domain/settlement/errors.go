package settlement

import (
	"errors"
	"fmt"
)

// ErrorKind classifies settlement failures
type ErrorKind string

const (
	ErrKindMalformedCredential    ErrorKind = "MALFORMED_CREDENTIAL"
	ErrKindUnsupportedTransaction ErrorKind = "UNSUPPORTED_TRANSACTION_KIND"
	ErrKindAmountTooLow           ErrorKind = "AMOUNT_TOO_LOW"
	ErrKindRecipientMismatch      ErrorKind = "RECIPIENT_MISMATCH"
	ErrKindNetworkSubmission      ErrorKind = "NETWORK_SUBMISSION_ERROR"
	ErrKindSettlementRejected     ErrorKind = "SETTLEMENT_REJECTED"
	ErrKindTimeout                ErrorKind = "TIMEOUT"
	ErrKindInternal               ErrorKind = "INTERNAL"
)

// String returns the string representation
func (k ErrorKind) String() string {
	return string(k)
}

// ClientAttributable reports whether the buyer's credential caused the failure
func (k ErrorKind) ClientAttributable() bool {
	switch k {
	case ErrKindMalformedCredential, ErrKindUnsupportedTransaction,
		ErrKindAmountTooLow, ErrKindRecipientMismatch:
		return true
	default:
		return false
	}
}

// Error is a typed settlement failure
type Error struct {
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
	// Transient is set when the ledger signalled that a new attempt may succeed
	Transient bool  `json:"transient,omitempty"`
	Err       error `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches settlement errors by kind
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// NewError creates a settlement error of the given kind
func NewError(kind ErrorKind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// WrapError creates a settlement error with an underlying cause
func WrapError(kind ErrorKind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Sentinels for errors.Is checks
var (
	ErrMalformedCredential    = NewError(ErrKindMalformedCredential, "")
	ErrUnsupportedTransaction = NewError(ErrKindUnsupportedTransaction, "")
	ErrAmountTooLow           = NewError(ErrKindAmountTooLow, "")
	ErrRecipientMismatch      = NewError(ErrKindRecipientMismatch, "")
	ErrNetworkSubmission      = NewError(ErrKindNetworkSubmission, "")
	ErrSettlementRejected     = NewError(ErrKindSettlementRejected, "")
	ErrTimeout                = NewError(ErrKindTimeout, "")
	ErrInternal               = NewError(ErrKindInternal, "")
)

// AsError classifies any error as a settlement error; unknown errors become INTERNAL
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return WrapError(ErrKindInternal, err.Error(), err)
}
