package checkout

import "github.com/ucp/merchant/internal/domain/shared"

// Validation errors: the request is rejected before any mutation
var (
	ErrEmptyCart              = shared.NewDomainError("EMPTY_CART", "At least one line item is required")
	ErrInvalidCurrency        = shared.NewDomainError("INVALID_CURRENCY", "Currency must be an ISO 4217 code")
	ErrCurrencyMismatch       = shared.NewDomainError("CURRENCY_MISMATCH", "Currency cannot change after creation")
	ErrUnknownItem            = shared.NewDomainError("UNKNOWN_ITEM", "Item is not in the catalog")
	ErrInvalidQuantity        = shared.NewDomainError("INVALID_QUANTITY", "Quantity must be positive")
	ErrDuplicateLineItem      = shared.NewDomainError("DUPLICATE_LINE_ITEM", "Line item id appears more than once")
	ErrUnsupportedFulfillment = shared.NewDomainError("UNSUPPORTED_FULFILLMENT", "Fulfillment type is not supported")
	ErrUnknownDestination     = shared.NewDomainError("UNKNOWN_DESTINATION", "Destination is not a candidate for this method")
	ErrDestinationRequired    = shared.NewDomainError("DESTINATION_REQUIRED", "Select a destination before selecting an option")
	ErrUnknownOption          = shared.NewDomainError("UNKNOWN_OPTION", "Option is not offered for this group")
	ErrUnknownPaymentHandler  = shared.NewDomainError("UNKNOWN_PAYMENT_HANDLER", "Payment handler is not offered by the merchant")
	ErrUnknownInstrument      = shared.NewDomainError("UNKNOWN_INSTRUMENT", "Selected instrument is not among the payment instruments")
	ErrMissingCredential      = shared.NewDomainError("MISSING_CREDENTIAL", "Payment credential is required")
)

// Conflict errors: the session is left unchanged
var (
	ErrSessionNotFound      = shared.NewDomainError("NOT_FOUND", "Checkout session not found")
	ErrSessionImmutable     = shared.NewDomainError("SESSION_IMMUTABLE", "Checkout session can no longer be modified")
	ErrSessionExpired       = shared.NewDomainError("SESSION_EXPIRED", "Checkout session has expired")
	ErrStaleWrite           = shared.NewDomainError("STALE_WRITE", "Request refers to state the session no longer has")
	ErrSettlementInProgress = shared.NewDomainError("SETTLEMENT_IN_PROGRESS", "A payment is being settled for this session")
	ErrStillProcessing      = shared.NewDomainError("STILL_PROCESSING", "The request is still being processed")
)
