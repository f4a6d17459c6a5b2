package checkout

import "time"

// Order metadata keys
const (
	MetaTransactionID      = "transactionId"
	MetaNetwork            = "network"
	MetaExplorerURL        = "explorerUrl"
	MetaConsensusTimestamp = "consensusTimestamp"
	MetaPayer              = "payer"
	MetaAmount             = "amount"
	// legacy mirrors read by older clients
	MetaLedgerTransactionID = "ledger_transaction_id"
	MetaLedgerExplorerURL   = "ledger_explorer_url"
)

// Order is created when a session settles successfully
type Order struct {
	ID           string            `json:"id"`
	PermalinkURL string            `json:"permalink_url"`
	Metadata     map[string]string `json:"metadata"`
}

// FailureKindTimeout is the failure kind for settlements that ran out of time
const FailureKindTimeout = "TIMEOUT"

// Failure describes why settlement failed
type Failure struct {
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
	Transient bool   `json:"transient"`
}

// Processing marks a settlement in flight
type Processing struct {
	IdempotencyKey string    `json:"idempotency_key"`
	StartedAt      time.Time `json:"started_at"`
	ExpectedAmount int64     `json:"expected_amount"`
	Deadline       time.Time `json:"deadline"`
}

// Expired reports whether the marker outlived its deadline, e.g. after a crash
func (p *Processing) Expired(now time.Time) bool {
	return p != nil && !p.Deadline.IsZero() && now.After(p.Deadline)
}

// Message types and codes
const (
	MessageTypeWarning          = "warning"
	MessageCodeDiscountInvalid  = "discount_code_invalid"
	MessageCodeDestinationReset = "destination_reset"
)

// Message is a non-fatal note attached to the session
type Message struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content"`
}
