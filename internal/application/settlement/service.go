// Package settlement settles a buyer-signed ledger transfer against the
// amount a checkout session expects.
package settlement

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ucp/merchant/internal/domain/settlement"
	"github.com/ucp/merchant/internal/infrastructure/ledger"
	"github.com/ucp/merchant/internal/infrastructure/logger"
	"github.com/ucp/merchant/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Service decodes, validates and submits payment credentials. It never retries.
type Service struct {
	codec       settlement.Codec
	gateway     settlement.Gateway
	merchant    settlement.AccountID
	requireMemo bool
	metrics     *telemetry.CheckoutMetrics
	logger      *zap.Logger
	now         func() time.Time
}

// Config holds the dependencies of a Service
type Config struct {
	Codec    settlement.Codec
	Gateway  settlement.Gateway
	Merchant settlement.AccountID
	// RequireMemo rejects transfers whose memo does not name the session
	RequireMemo bool
	Metrics     *telemetry.CheckoutMetrics
	Logger      *zap.Logger
	Clock       func() time.Time
}

// NewService creates a settlement service
func NewService(cfg Config) (*Service, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("settlement: gateway is required")
	}
	if cfg.Merchant.IsZero() {
		return nil, errors.New("settlement: merchant account is required")
	}
	if cfg.Codec == nil {
		cfg.Codec = ledger.NewProtoCodec()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{
		codec:       cfg.Codec,
		gateway:     cfg.Gateway,
		merchant:    cfg.Merchant,
		requireMemo: cfg.RequireMemo,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         cfg.Clock,
	}, nil
}

// Network returns the network settlements are submitted to
func (s *Service) Network() settlement.Network {
	return s.gateway.Network()
}

// MerchantAccount returns the account payments must credit
func (s *Service) MerchantAccount() settlement.AccountID {
	return s.merchant
}

// Settle settles credential for at least expectedAmount base units.
// Every failure is a *settlement.Error.
func (s *Service) Settle(ctx context.Context, credential string, expectedAmount int64, sessionID string) (*settlement.Result, error) {
	network := s.gateway.Network()
	ctx, span := telemetry.StartServiceSpan(ctx, "settlement", "settle",
		telemetry.WithAttribute(telemetry.SpanAttrSessionID, sessionID),
		telemetry.WithAttribute(telemetry.SpanAttrNetwork, network.String()),
		telemetry.WithAttribute(telemetry.SpanAttrExpectedAmount, expectedAmount),
	)
	defer span.End()

	started := s.now()
	log := logger.With(ctx, s.logger).With(
		zap.String("session_id", sessionID),
		zap.String("network", network.String()),
		zap.Int64("expected_amount", expectedAmount),
	)

	result, err := s.settle(ctx, credential, expectedAmount, sessionID)
	elapsed := s.now().Sub(started)
	if err != nil {
		serr := settlement.AsError(err)
		telemetry.SetAttributes(span, telemetry.SpanAttrFailureKind, serr.Kind.String())
		telemetry.RecordError(span, serr)
		s.metrics.RecordSettlement(ctx, network.String(), serr.Kind.String(), serr.Transient, 0, elapsed)

		fields := []zap.Field{
			zap.String("kind", serr.Kind.String()),
			zap.Bool("transient", serr.Transient),
			zap.Duration("elapsed", elapsed),
			zap.Error(serr),
		}
		if serr.Kind.ClientAttributable() {
			log.Warn("Settlement rejected", fields...)
		} else {
			log.Error("Settlement failed", fields...)
		}
		return nil, serr
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrTransactionID, result.TransactionID,
		telemetry.SpanAttrReceiptStatus, result.Status,
		telemetry.SpanAttrPaidAmount, result.Amount,
	)
	telemetry.SetOK(span)
	s.metrics.RecordSettlement(ctx, network.String(), "", false, result.Amount, elapsed)
	log.Info("Settlement succeeded",
		zap.String("transaction_id", result.TransactionID),
		zap.String("payer", result.Payer),
		zap.Int64("amount", result.Amount),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

func (s *Service) settle(ctx context.Context, credential string, expectedAmount int64, sessionID string) (*settlement.Result, error) {
	raw, err := decodeCredential(credential)
	if err != nil {
		return nil, settlement.WrapError(settlement.ErrKindMalformedCredential, "credential is not base64", err)
	}
	tx, err := s.codec.Decode(raw)
	if err != nil {
		return nil, settlement.WrapError(settlement.ErrKindMalformedCredential, err.Error(), err)
	}

	if !tx.IsSingleAssetTransfer() {
		return nil, settlement.NewError(settlement.ErrKindUnsupportedTransaction,
			fmt.Sprintf("expected a single asset transfer, got %s", tx.Kind))
	}
	if s.requireMemo && !strings.Contains(tx.Memo, sessionID) {
		return nil, settlement.NewError(settlement.ErrKindMalformedCredential,
			"transaction memo does not reference the checkout session")
	}
	if err := settlement.Validate(tx, s.merchant, expectedAmount); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, timeoutError(err)
	}
	receipt, err := s.gateway.Submit(ctx, tx)
	if err != nil {
		return nil, submitError(ctx, err)
	}
	if !receipt.Status.IsSuccess() {
		return nil, settlement.NewError(settlement.ErrKindSettlementRejected,
			fmt.Sprintf("ledger status %s", receipt.Status))
	}

	txID := receipt.TransactionID
	if txID == "" {
		txID = tx.ID.String()
	}
	ts := receipt.ConsensusTimestamp
	if ts.IsZero() {
		ts = s.now()
	}
	amount, _ := tx.AmountTo(s.merchant)
	payer, _ := tx.Sender()

	network := s.gateway.Network()
	return &settlement.Result{
		TransactionID: txID,
		Status:        string(receipt.Status),
		Network:       network,
		Timestamp:     ts.UTC(),
		ExplorerURL:   ledger.ExplorerURL(network, txID),
		Payer:         payer.String(),
		Amount:        amount,
		Memo:          tx.Memo,
	}, nil
}

// decodeCredential accepts standard base64 and falls back to unpadded url-safe
func decodeCredential(credential string) ([]byte, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, errors.New("empty credential")
	}
	raw, err := base64.StdEncoding.DecodeString(credential)
	if err == nil {
		return raw, nil
	}
	if alt, altErr := base64.RawURLEncoding.DecodeString(strings.TrimRight(credential, "=")); altErr == nil {
		return alt, nil
	}
	return nil, err
}

func submitError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return timeoutError(err)
	}
	var ne *settlement.NetworkError
	if errors.As(err, &ne) {
		return &settlement.Error{
			Kind:      settlement.ErrKindNetworkSubmission,
			Reason:    ne.Error(),
			Transient: ne.Transient,
			Err:       err,
		}
	}
	return settlement.WrapError(settlement.ErrKindInternal, err.Error(), err)
}

func timeoutError(err error) error {
	return settlement.WrapError(settlement.ErrKindTimeout, "settlement did not finish in time", err)
}
