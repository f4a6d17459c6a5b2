package dto

import (
	"errors"
	"net/http"

	"github.com/ucp/merchant/internal/domain/settlement"
	"github.com/ucp/merchant/internal/domain/shared"
)

// Transport error codes
const (
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeValidation is used when struct binding tags reject the request
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeInvalidJSON is used when the body is not valid JSON
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	// ErrCodeSchema is used when the body does not match the request schema
	ErrCodeSchema = "ERR_SCHEMA"
	// ErrCodeRequestTooLarge is used when the body exceeds the configured limit
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	// ErrCodeRouteNotFound is used for unknown routes
	ErrCodeRouteNotFound = "ERR_ROUTE_NOT_FOUND"
	// ErrCodeMethodNotAllowed is used when the route exists for other methods
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:         http.StatusInternalServerError,
	ErrCodeValidation:       http.StatusBadRequest,
	ErrCodeInvalidJSON:      http.StatusBadRequest,
	ErrCodeSchema:           http.StatusBadRequest,
	ErrCodeRequestTooLarge:  http.StatusRequestEntityTooLarge,
	ErrCodeRouteNotFound:    http.StatusNotFound,
	ErrCodeMethodNotAllowed: http.StatusMethodNotAllowed,

	// Request validation -> 400 Bad Request
	"INVALID_INPUT":            http.StatusBadRequest,
	"IDEMPOTENCY_KEY_REQUIRED": http.StatusBadRequest,
	"SESSION_ID_MISMATCH":      http.StatusBadRequest,
	"PAYMENT_REQUIRED":         http.StatusBadRequest,
	"EMPTY_CART":               http.StatusBadRequest,
	"INVALID_CURRENCY":         http.StatusBadRequest,
	"CURRENCY_MISMATCH":        http.StatusBadRequest,
	"UNKNOWN_ITEM":             http.StatusBadRequest,
	"INVALID_QUANTITY":         http.StatusBadRequest,
	"DUPLICATE_LINE_ITEM":      http.StatusBadRequest,
	"UNSUPPORTED_FULFILLMENT":  http.StatusBadRequest,
	"UNKNOWN_DESTINATION":      http.StatusBadRequest,
	"DESTINATION_REQUIRED":     http.StatusBadRequest,
	"UNKNOWN_OPTION":           http.StatusBadRequest,
	"UNKNOWN_PAYMENT_HANDLER":  http.StatusBadRequest,
	"UNKNOWN_INSTRUMENT":       http.StatusBadRequest,
	"MISSING_CREDENTIAL":       http.StatusBadRequest,

	// Resource state -> 404 / 409
	"NOT_FOUND":              http.StatusNotFound,
	"ALREADY_EXISTS":         http.StatusConflict,
	"CONFLICT":               http.StatusConflict,
	"CONCURRENCY_CONFLICT":   http.StatusConflict,
	"INVALID_STATE":          http.StatusConflict,
	"LOCK_TIMEOUT":           http.StatusConflict,
	"SESSION_IMMUTABLE":      http.StatusConflict,
	"SESSION_EXPIRED":        http.StatusConflict,
	"STALE_WRITE":            http.StatusConflict,
	"SETTLEMENT_IN_PROGRESS": http.StatusConflict,
	"STILL_PROCESSING":       http.StatusConflict,
	"IDEMPOTENCY_KEY_REUSED": http.StatusUnprocessableEntity,

	// Settlement outcomes
	settlement.ErrKindMalformedCredential.String():    http.StatusBadRequest,
	settlement.ErrKindUnsupportedTransaction.String(): http.StatusBadRequest,
	settlement.ErrKindAmountTooLow.String():           http.StatusPaymentRequired,
	settlement.ErrKindRecipientMismatch.String():      http.StatusPaymentRequired,
	settlement.ErrKindNetworkSubmission.String():      http.StatusBadGateway,
	settlement.ErrKindSettlementRejected.String():     http.StatusBadGateway,
	settlement.ErrKindTimeout.String():                http.StatusGatewayTimeout,
	settlement.ErrKindInternal.String():               http.StatusInternalServerError,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorStatus classifies err into a code, message and HTTP status.
// Transient ledger submission failures answer 503 so clients retry.
func ErrorStatus(err error) (status int, code, message string) {
	var serr *settlement.Error
	if errors.As(err, &serr) {
		code = serr.Kind.String()
		status = GetHTTPStatus(code)
		if serr.Kind == settlement.ErrKindNetworkSubmission && serr.Transient {
			status = http.StatusServiceUnavailable
		}
		message = serr.Reason
		if message == "" {
			message = serr.Error()
		}
		return status, code, message
	}

	var de *shared.DomainError
	if errors.As(err, &de) {
		return GetHTTPStatus(de.Code), de.Code, de.Message
	}
	return http.StatusInternalServerError, ErrCodeInternal, "An internal error occurred"
}
