package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ucp/merchant/internal/domain/settlement"
	"go.uber.org/zap"
)

// Receipt statuses produced by the simulated ledger
const (
	StatusDuplicateTransaction = "DUPLICATE_TRANSACTION"
	StatusTransactionExpired   = "TRANSACTION_EXPIRED"
	StatusInvalidSignature     = "INVALID_SIGNATURE"
)

// Outcome overrides the simulated result of a submission
type Outcome func(tx *settlement.TransferRecord) (settlement.ReceiptStatus, error)

// SimulatedGateway is an in-process ledger. Each transaction id settles at most once.
type SimulatedGateway struct {
	network settlement.Network
	latency time.Duration
	now     func() time.Time
	outcome Outcome
	logger  *zap.Logger

	mu   sync.Mutex
	seen map[string]settlement.Receipt
}

// SimulatedOption configures a SimulatedGateway
type SimulatedOption func(*SimulatedGateway)

// WithLatency delays every submission
func WithLatency(d time.Duration) SimulatedOption {
	return func(g *SimulatedGateway) {
		g.latency = d
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) SimulatedOption {
	return func(g *SimulatedGateway) {
		g.now = now
	}
}

// WithOutcome overrides the receipt status or fails the submission
func WithOutcome(o Outcome) SimulatedOption {
	return func(g *SimulatedGateway) {
		g.outcome = o
	}
}

// WithSimulatedLogger sets the logger
func WithSimulatedLogger(l *zap.Logger) SimulatedOption {
	return func(g *SimulatedGateway) {
		g.logger = l
	}
}

// NewSimulatedGateway creates a simulated ledger for network
func NewSimulatedGateway(network settlement.Network, opts ...SimulatedOption) *SimulatedGateway {
	g := &SimulatedGateway{
		network: network,
		now:     time.Now,
		logger:  zap.NewNop(),
		seen:    make(map[string]settlement.Receipt),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Network implements settlement.Gateway
func (g *SimulatedGateway) Network() settlement.Network {
	return g.network
}

// Submit implements settlement.Gateway
func (g *SimulatedGateway) Submit(ctx context.Context, tx *settlement.TransferRecord) (*settlement.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.latency > 0 {
		timer := time.NewTimer(g.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	txID := tx.ID.String()
	now := g.now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, dup := g.seen[txID]; dup {
		g.logger.Warn("Rejected replayed ledger transaction", zap.String("transaction_id", txID))
		return &settlement.Receipt{TransactionID: txID, Status: StatusDuplicateTransaction, ConsensusTimestamp: now}, nil
	}

	status := settlement.ReceiptStatus(settlement.ReceiptStatusSuccess)
	switch {
	case len(tx.Signatures) == 0:
		status = StatusInvalidSignature
	case tx.ValidDuration > 0 && now.After(tx.ID.ValidStart.Add(tx.ValidDuration)):
		status = StatusTransactionExpired
	}
	if g.outcome != nil && status.IsSuccess() {
		s, err := g.outcome(tx)
		if err != nil {
			var ne *settlement.NetworkError
			if errors.As(err, &ne) {
				return nil, err
			}
			return nil, &settlement.NetworkError{Network: g.network, Err: err}
		}
		if s != "" {
			status = s
		}
	}

	receipt := settlement.Receipt{TransactionID: txID, Status: status, ConsensusTimestamp: now}
	g.seen[txID] = receipt
	g.logger.Debug("Simulated ledger transaction",
		zap.String("transaction_id", txID),
		zap.String("status", string(status)),
		zap.String("network", g.network.String()),
	)
	return &receipt, nil
}

// Receipt returns the stored receipt of a settled transaction id
func (g *SimulatedGateway) Receipt(transactionID string) (settlement.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.seen[transactionID]
	if !ok {
		return settlement.Receipt{}, fmt.Errorf("unknown transaction %s", transactionID)
	}
	return r, nil
}

// Submissions returns the number of distinct transactions seen
func (g *SimulatedGateway) Submissions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

var _ settlement.Gateway = (*SimulatedGateway)(nil)
