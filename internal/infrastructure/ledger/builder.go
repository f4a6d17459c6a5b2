package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/ucp/merchant/internal/domain/settlement"
)

// Builder defaults
const (
	DefaultTransactionFee = 100_000_000 // 1 whole unit
	DefaultValidDuration  = 120 * time.Second
)

// DefaultNodeAccount is the node the builder addresses when none is set
var DefaultNodeAccount = settlement.AccountID{Num: 3}

// TransferBuilder assembles and signs a native asset transfer from one payer
type TransferBuilder struct {
	payer      settlement.AccountID
	node       settlement.AccountID
	fee        uint64
	duration   time.Duration
	validStart time.Time
	memo       string
	transfers  []settlement.Transfer
	err        error
}

// NewTransferBuilder starts a transfer paid by payer
func NewTransferBuilder(payer settlement.AccountID) *TransferBuilder {
	return &TransferBuilder{
		payer:    payer,
		node:     DefaultNodeAccount,
		fee:      DefaultTransactionFee,
		duration: DefaultValidDuration,
	}
}

// Node sets the node account
func (b *TransferBuilder) Node(node settlement.AccountID) *TransferBuilder {
	b.node = node
	return b
}

// Fee sets the maximum transaction fee
func (b *TransferBuilder) Fee(fee uint64) *TransferBuilder {
	b.fee = fee
	return b
}

// ValidStart sets the valid start; the default is one second before Build
func (b *TransferBuilder) ValidStart(t time.Time) *TransferBuilder {
	b.validStart = t
	return b
}

// Memo sets the transaction memo
func (b *TransferBuilder) Memo(memo string) *TransferBuilder {
	b.memo = memo
	return b
}

// Pay moves amount base units from the payer to recipient
func (b *TransferBuilder) Pay(recipient settlement.AccountID, amount int64) *TransferBuilder {
	if amount <= 0 {
		b.err = errors.Join(b.err, fmt.Errorf("transfer to %s: amount must be positive", recipient))
		return b
	}
	b.transfers = append(b.transfers,
		settlement.Transfer{Account: b.payer, Amount: -amount},
		settlement.Transfer{Account: recipient, Amount: amount},
	)
	return b
}

// Build returns the unsigned record with its body bytes
func (b *TransferBuilder) Build() (*settlement.TransferRecord, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.payer.IsZero() {
		return nil, errors.New("payer account is required")
	}
	if len(b.transfers) == 0 {
		return nil, errors.New("at least one transfer is required")
	}
	start := b.validStart
	if start.IsZero() {
		start = time.Now().Add(-time.Second)
	}

	rec := &settlement.TransferRecord{
		ID:            settlement.TransactionID{Payer: b.payer, ValidStart: start.UTC()},
		Kind:          settlement.KindCryptoTransfer,
		NodeAccount:   b.node,
		Fee:           b.fee,
		ValidDuration: b.duration,
		Memo:          b.memo,
		Transfers:     append([]settlement.Transfer(nil), b.transfers...),
	}
	rec.BodyBytes = EncodeBody(rec)
	return rec, nil
}

// Sign builds the record and signs its body with every signer
func (b *TransferBuilder) Sign(signers ...Signer) (*settlement.TransferRecord, error) {
	rec, err := b.Build()
	if err != nil {
		return nil, err
	}
	if len(signers) == 0 {
		return nil, ErrUnsigned
	}
	for _, s := range signers {
		sig, err := s.Sign(rec.BodyBytes)
		if err != nil {
			return nil, err
		}
		rec.Signatures = append(rec.Signatures, sig)
	}
	return rec, nil
}
