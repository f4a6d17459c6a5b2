package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucp/merchant/internal/domain/settlement"
	"github.com/ucp/merchant/internal/infrastructure/config"
	"go.uber.org/zap"
)

func TestSimulatedGateway(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return start.Add(10 * time.Second) }

	t.Run("settles once", func(t *testing.T) {
		g := NewSimulatedGateway(settlement.NetworkTestnet, WithClock(clock))
		rec := signedTransfer(t, 2100)

		receipt, err := g.Submit(ctx, rec)
		require.NoError(t, err)
		assert.True(t, receipt.Status.IsSuccess())
		assert.Equal(t, rec.ID.String(), receipt.TransactionID)
		assert.Equal(t, settlement.NetworkTestnet, g.Network())

		replay, err := g.Submit(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, settlement.ReceiptStatus(StatusDuplicateTransaction), replay.Status)
		assert.Equal(t, 1, g.Submissions())

		stored, err := g.Receipt(rec.ID.String())
		require.NoError(t, err)
		assert.True(t, stored.Status.IsSuccess())
	})

	t.Run("expired transaction", func(t *testing.T) {
		late := func() time.Time { return start.Add(time.Hour) }
		g := NewSimulatedGateway(settlement.NetworkTestnet, WithClock(late))
		receipt, err := g.Submit(ctx, signedTransfer(t, 100))
		require.NoError(t, err)
		assert.Equal(t, settlement.ReceiptStatus(StatusTransactionExpired), receipt.Status)
	})

	t.Run("outcome override", func(t *testing.T) {
		g := NewSimulatedGateway(settlement.NetworkTestnet, WithClock(clock),
			WithOutcome(func(*settlement.TransferRecord) (settlement.ReceiptStatus, error) {
				return "INSUFFICIENT_PAYER_BALANCE", nil
			}))
		receipt, err := g.Submit(ctx, signedTransfer(t, 100))
		require.NoError(t, err)
		assert.False(t, receipt.Status.IsSuccess())
	})

	t.Run("outcome error is a network error", func(t *testing.T) {
		g := NewSimulatedGateway(settlement.NetworkTestnet, WithClock(clock),
			WithOutcome(func(*settlement.TransferRecord) (settlement.ReceiptStatus, error) {
				return "", &settlement.NetworkError{Network: settlement.NetworkTestnet, Transient: true, Err: errors.New("busy")}
			}))
		_, err := g.Submit(ctx, signedTransfer(t, 100))
		require.Error(t, err)
		assert.True(t, settlement.IsTransient(err))
		assert.Equal(t, 0, g.Submissions())
	})

	t.Run("honors cancellation during latency", func(t *testing.T) {
		g := NewSimulatedGateway(settlement.NetworkTestnet, WithClock(clock), WithLatency(time.Second))
		ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err := g.Submit(ctx, signedTransfer(t, 100))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 0, g.Submissions())
	})
}

type fakeRelay struct {
	submitStatus  int
	precheck      string
	receiptStatus string
	pending       int32
	submits       atomic.Int32
	polls         atomic.Int32

	mu          sync.Mutex
	lastNetwork string
	lastDecoded *settlement.TransferRecord
}

func (f *fakeRelay) last() (string, *settlement.TransferRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastNetwork, f.lastDecoded
}

func (f *fakeRelay) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		f.submits.Add(1)
		if f.submitStatus != 0 {
			w.WriteHeader(f.submitStatus)
			return
		}
		var req submitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := base64.StdEncoding.DecodeString(req.Transaction)
		require.NoError(t, err)
		rec, err := NewProtoCodec().Decode(raw)
		require.NoError(t, err)
		f.mu.Lock()
		f.lastNetwork = req.Network
		f.lastDecoded = rec
		f.mu.Unlock()

		_ = json.NewEncoder(w).Encode(submitResponse{TransactionID: rec.ID.String(), Precheck: f.precheck})
	})
	mux.HandleFunc("GET /api/v1/transactions/{id}/receipt", func(w http.ResponseWriter, r *http.Request) {
		n := f.polls.Add(1)
		if n <= f.pending {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_ = json.NewEncoder(w).Encode(receiptResponse{
			TransactionID:      r.PathValue("id"),
			Status:             f.receiptStatus,
			ConsensusTimestamp: start.Add(3 * time.Second),
		})
	})
	return mux
}

func newTestRelay(t *testing.T, f *fakeRelay) *RelayGateway {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	g, err := NewRelayGateway(RelayConfig{
		BaseURL:         srv.URL,
		Network:         settlement.NetworkTestnet,
		PollInterval:    5 * time.Millisecond,
		BreakerMaxFails: 2,
		BreakerOpenFor:  time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	return g
}

func TestRelayGateway(t *testing.T) {
	ctx := context.Background()

	t.Run("submits and polls until final", func(t *testing.T) {
		f := &fakeRelay{receiptStatus: "SUCCESS", pending: 2}
		g := newTestRelay(t, f)
		rec := signedTransfer(t, 2100)

		receipt, err := g.Submit(ctx, rec)
		require.NoError(t, err)
		assert.True(t, receipt.Status.IsSuccess())
		assert.Equal(t, rec.ID.String(), receipt.TransactionID)
		assert.True(t, receipt.ConsensusTimestamp.Equal(start.Add(3*time.Second)))
		assert.Equal(t, int32(3), f.polls.Load())
		network, decoded := f.last()
		assert.Equal(t, "testnet", network)
		assert.Equal(t, rec.BodyBytes, decoded.BodyBytes)
	})

	t.Run("final failure status is returned as receipt", func(t *testing.T) {
		g := newTestRelay(t, &fakeRelay{receiptStatus: "INVALID_ACCOUNT_ID"})
		receipt, err := g.Submit(ctx, signedTransfer(t, 2100))
		require.NoError(t, err)
		assert.Equal(t, settlement.ReceiptStatus("INVALID_ACCOUNT_ID"), receipt.Status)
	})

	t.Run("failed precheck is a rejected receipt", func(t *testing.T) {
		f := &fakeRelay{precheck: "INSUFFICIENT_PAYER_BALANCE"}
		g := newTestRelay(t, f)
		receipt, err := g.Submit(ctx, signedTransfer(t, 2100))
		require.NoError(t, err)
		assert.Equal(t, settlement.ReceiptStatus("INSUFFICIENT_PAYER_BALANCE"), receipt.Status)
		assert.Equal(t, int32(0), f.polls.Load())
	})

	t.Run("busy precheck is transient", func(t *testing.T) {
		g := newTestRelay(t, &fakeRelay{precheck: "BUSY"})
		_, err := g.Submit(ctx, signedTransfer(t, 2100))
		require.Error(t, err)
		assert.True(t, settlement.IsTransient(err))
	})

	t.Run("client errors are permanent", func(t *testing.T) {
		g := newTestRelay(t, &fakeRelay{submitStatus: http.StatusBadRequest})
		_, err := g.Submit(ctx, signedTransfer(t, 2100))
		var ne *settlement.NetworkError
		require.ErrorAs(t, err, &ne)
		assert.False(t, ne.Transient)
	})

	t.Run("server errors open the breaker", func(t *testing.T) {
		f := &fakeRelay{submitStatus: http.StatusServiceUnavailable}
		g := newTestRelay(t, f)

		for i := 0; i < 2; i++ {
			_, err := g.Submit(ctx, signedTransfer(t, 2100))
			require.Error(t, err)
			assert.True(t, settlement.IsTransient(err))
		}
		assert.Equal(t, gobreaker.StateOpen, g.BreakerState())

		_, err := g.Submit(ctx, signedTransfer(t, 2100))
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.True(t, settlement.IsTransient(err))
		assert.Equal(t, int32(2), f.submits.Load())
	})

	t.Run("context deadline while polling", func(t *testing.T) {
		g := newTestRelay(t, &fakeRelay{receiptStatus: "SUCCESS", pending: 1_000_000})
		ctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()

		_, err := g.Submit(ctx, signedTransfer(t, 2100))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestNewRelayGateway_InvalidURL(t *testing.T) {
	_, err := NewRelayGateway(RelayConfig{BaseURL: "not a url"}, nil)
	require.Error(t, err)
}

func TestNewGateway(t *testing.T) {
	t.Run("simulated without relay", func(t *testing.T) {
		g, err := NewGateway(&config.LedgerConfig{Network: "previewnet"}, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &SimulatedGateway{}, g)
		assert.Equal(t, settlement.NetworkPreviewnet, g.Network())
	})

	t.Run("relay when configured", func(t *testing.T) {
		g, err := NewGateway(&config.LedgerConfig{Network: "mainnet", RelayURL: "https://relay.example.com"}, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &RelayGateway{}, g)
	})

	t.Run("unknown network", func(t *testing.T) {
		_, err := NewGateway(&config.LedgerConfig{Network: "moonnet"}, zap.NewNop())
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "moonnet"))
	})
}
