package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Network identifies the ledger network transactions are submitted to
type Network string

const (
	NetworkMainnet    Network = "mainnet"
	NetworkTestnet    Network = "testnet"
	NetworkPreviewnet Network = "previewnet"
	NetworkLocal      Network = "local"
)

// IsValid checks if the network is known
func (n Network) IsValid() bool {
	switch n {
	case NetworkMainnet, NetworkTestnet, NetworkPreviewnet, NetworkLocal:
		return true
	}
	return false
}

// String returns the string representation
func (n Network) String() string {
	return string(n)
}

// ParseNetwork parses a configured network name
func ParseNetwork(s string) (Network, error) {
	n := Network(s)
	if !n.IsValid() {
		return "", fmt.Errorf("unknown ledger network %q", s)
	}
	return n, nil
}

// ReceiptStatusSuccess is the only receipt status treated as settled
const ReceiptStatusSuccess = "SUCCESS"

// ReceiptStatus is the status string reported by the ledger for a transaction
type ReceiptStatus string

// IsSuccess reports whether the receipt is a success. Any other value,
// including unknown ones, is a failure.
func (s ReceiptStatus) IsSuccess() bool {
	return s == ReceiptStatusSuccess
}

// Receipt is the ledger's finalized record of a submitted transaction
type Receipt struct {
	TransactionID      string
	Status             ReceiptStatus
	ConsensusTimestamp time.Time
}

// NetworkError is a failure to submit to or hear back from the ledger
type NetworkError struct {
	Network   Network
	Transient bool
	Err       error
}

// Error implements the error interface
func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s network error: %v", e.Network, e.Err)
}

// Unwrap returns the underlying cause
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a NetworkError the ledger marked as retryable
func IsTransient(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) && ne.Transient
}

// Gateway submits validated transactions to a ledger network
type Gateway interface {
	// Network returns the configured network identity
	Network() Network
	// Submit sends the transaction and blocks until a final receipt or ctx is done
	Submit(ctx context.Context, tx *TransferRecord) (*Receipt, error)
}

// Codec converts between opaque signed transaction bytes and transfer records
type Codec interface {
	// Decode parses and verifies signed transaction bytes
	Decode(raw []byte) (*TransferRecord, error)
	// Encode produces signed transaction bytes for transmission
	Encode(tx *TransferRecord) ([]byte, error)
}

// Result is a successful settlement
type Result struct {
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	Network       Network   `json:"network"`
	Timestamp     time.Time `json:"timestamp"`
	ExplorerURL   string    `json:"explorer_url,omitempty"`
	Payer         string    `json:"payer,omitempty"`
	Amount        int64     `json:"amount"`
	Memo          string    `json:"memo,omitempty"`
}
