package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/ucp/merchant/internal/domain/settlement"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Precheck codes the relay reports when the node did not take the transaction.
// These are worth a new attempt; any other non-OK precheck is final.
var transientPrechecks = map[string]bool{
	"BUSY":                             true,
	"PLATFORM_NOT_ACTIVE":              true,
	"PLATFORM_TRANSACTION_NOT_CREATED": true,
}

const (
	precheckOK    = "OK"
	statusUnknown = "UNKNOWN"
	statusPending = "PENDING"
)

// RelayConfig configures a RelayGateway
type RelayConfig struct {
	BaseURL         string
	Network         settlement.Network
	RequestTimeout  time.Duration
	PollInterval    time.Duration
	BreakerMaxFails uint32
	BreakerOpenFor  time.Duration
	HTTPClient      *http.Client
}

// RelayGateway submits signed transactions to an HTTP ledger relay and polls
// for the receipt. Calls go through a circuit breaker.
type RelayGateway struct {
	cfg     RelayConfig
	base    *url.URL
	client  *http.Client
	codec   *ProtoCodec
	breaker *gobreaker.CircuitBreaker[*submitResponse]
	logger  *zap.Logger
}

type submitRequest struct {
	Network     string `json:"network"`
	Transaction string `json:"transaction"`
}

type submitResponse struct {
	TransactionID string `json:"transaction_id"`
	Precheck      string `json:"precheck"`
}

type receiptResponse struct {
	TransactionID      string    `json:"transaction_id"`
	Status             string    `json:"status"`
	ConsensusTimestamp time.Time `json:"consensus_timestamp"`
}

// NewRelayGateway creates a relay gateway
func NewRelayGateway(cfg RelayConfig, logger *zap.Logger) (*RelayGateway, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid relay url %q", cfg.BaseURL)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BreakerMaxFails == 0 {
		cfg.BreakerMaxFails = 5
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	g := &RelayGateway{
		cfg:    cfg,
		base:   base,
		client: client,
		codec:  NewProtoCodec(),
		logger: logger,
	}
	g.breaker = gobreaker.NewCircuitBreaker[*submitResponse](gobreaker.Settings{
		Name:    "ledger-relay",
		Timeout: cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFails
		},
		// only ledger side trouble opens the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || !settlement.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return g, nil
}

// Network implements settlement.Gateway
func (g *RelayGateway) Network() settlement.Network {
	return g.cfg.Network
}

// Submit implements settlement.Gateway
func (g *RelayGateway) Submit(ctx context.Context, tx *settlement.TransferRecord) (*settlement.Receipt, error) {
	raw, err := g.codec.Encode(tx)
	if err != nil {
		return nil, &settlement.NetworkError{Network: g.cfg.Network, Err: err}
	}

	resp, err := g.breaker.Execute(func() (*submitResponse, error) {
		return g.submit(ctx, raw)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &settlement.NetworkError{Network: g.cfg.Network, Transient: true, Err: err}
		}
		return nil, err
	}

	txID := resp.TransactionID
	if txID == "" {
		txID = tx.ID.String()
	}
	if resp.Precheck != "" && resp.Precheck != precheckOK {
		if transientPrechecks[resp.Precheck] {
			return nil, &settlement.NetworkError{
				Network:   g.cfg.Network,
				Transient: true,
				Err:       fmt.Errorf("precheck %s", resp.Precheck),
			}
		}
		return &settlement.Receipt{TransactionID: txID, Status: settlement.ReceiptStatus(resp.Precheck)}, nil
	}

	return g.pollReceipt(ctx, txID)
}

func (g *RelayGateway) submit(ctx context.Context, raw []byte) (*submitResponse, error) {
	payload, err := json.Marshal(submitRequest{
		Network:     g.cfg.Network.String(),
		Transaction: base64.StdEncoding.EncodeToString(raw),
	})
	if err != nil {
		return nil, err
	}

	var out submitResponse
	status, err := g.do(ctx, http.MethodPost, g.endpoint("api", "v1", "transactions"), payload, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return nil, g.statusError(status)
	}
	return &out, nil
}

func (g *RelayGateway) pollReceipt(ctx context.Context, txID string) (*settlement.Receipt, error) {
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	endpoint := g.endpoint("api", "v1", "transactions", txID, "receipt")
	for {
		var out receiptResponse
		status, err := g.do(ctx, http.MethodGet, endpoint, nil, &out)
		if err != nil {
			return nil, err
		}
		switch {
		case status == http.StatusOK && out.Status != "" && out.Status != statusUnknown && out.Status != statusPending:
			if out.TransactionID == "" {
				out.TransactionID = txID
			}
			return &settlement.Receipt{
				TransactionID:      out.TransactionID,
				Status:             settlement.ReceiptStatus(out.Status),
				ConsensusTimestamp: out.ConsensusTimestamp,
			}, nil
		case status == http.StatusOK, status == http.StatusAccepted, status == http.StatusNotFound:
			// not final yet
		default:
			return nil, g.statusError(status)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// do performs one request and decodes a JSON body into out on 2xx
func (g *RelayGateway) do(ctx context.Context, method, endpoint string, body []byte, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, &settlement.NetworkError{Network: g.cfg.Network, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, &settlement.NetworkError{Network: g.cfg.Network, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, &settlement.NetworkError{Network: g.cfg.Network, Transient: true, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return 0, &settlement.NetworkError{Network: g.cfg.Network, Err: fmt.Errorf("invalid relay response: %w", err)}
		}
	}
	return resp.StatusCode, nil
}

func (g *RelayGateway) statusError(status int) error {
	transient := status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
	return &settlement.NetworkError{
		Network:   g.cfg.Network,
		Transient: transient,
		Err:       fmt.Errorf("relay responded %d %s", status, http.StatusText(status)),
	}
}

func (g *RelayGateway) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return g.base.JoinPath(escaped...).String()
}

// BreakerState reports the circuit breaker state
func (g *RelayGateway) BreakerState() gobreaker.State {
	return g.breaker.State()
}

var _ settlement.Gateway = (*RelayGateway)(nil)
