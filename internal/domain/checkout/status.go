package checkout

// Status represents the checkout session lifecycle state
type Status string

const (
	// StatusOpen has items but no fulfillment method requested
	StatusOpen Status = "OPEN"
	// StatusFulfillmentPending has a fulfillment method without a complete selection
	StatusFulfillmentPending Status = "FULFILLMENT_PENDING"
	// StatusReady has every fulfillment method fully selected
	StatusReady Status = "READY"
	// StatusCompleted is settled and has an order
	StatusCompleted Status = "COMPLETED"
	// StatusFailed is a settlement failure; the session stays readable
	StatusFailed Status = "FAILED"
)

// IsValid checks if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusFulfillmentPending, StatusReady, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// String returns the string representation
func (s Status) String() string {
	return string(s)
}

// IsMutable reports whether updates are accepted in this status
func (s Status) IsMutable() bool {
	return s == StatusOpen || s == StatusFulfillmentPending || s == StatusReady
}

// IsTerminal reports whether the status can never change again
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo checks if a transition to the target status is allowed
func (s Status) CanTransitionTo(target Status) bool {
	if !target.IsValid() {
		return false
	}
	switch s {
	case StatusOpen, StatusFulfillmentPending, StatusReady:
		return true
	default:
		return false
	}
}
