package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ucp/merchant/internal/domain/checkout"
	"github.com/ucp/merchant/internal/domain/settlement"
	"github.com/ucp/merchant/internal/domain/shared"
	"github.com/ucp/merchant/internal/domain/shared/valueobject"
	"github.com/ucp/merchant/internal/infrastructure/logger"
	"github.com/ucp/merchant/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Complete settles the payment credential and finalizes the session. A
// settlement failure moves the session to FAILED and is returned as a
// *SessionError carrying the failed checkout.
func (s *Service) Complete(ctx context.Context, id, idempotencyKey string, req CompleteSessionRequest) (*Result, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "checkout", OperationComplete,
		telemetry.WithAttribute(telemetry.SpanAttrOperation, OperationComplete),
		telemetry.WithAttribute(telemetry.SpanAttrSessionID, id))
	defer span.End()

	sessionID, err := parseSessionID(id)
	if err != nil {
		return s.finish(ctx, span, OperationComplete, nil, err)
	}
	scope, err := newIdempotencyScope(OperationComplete, id, idempotencyKey, req)
	if err != nil {
		return s.finish(ctx, span, OperationComplete, nil, err)
	}
	res, err := s.runIdempotent(ctx, scope, func() (*Result, error) {
		return s.complete(ctx, sessionID, idempotencyKey, req)
	})
	return s.finish(ctx, span, OperationComplete, res, err)
}

func (s *Service) complete(ctx context.Context, id uuid.UUID, key string, req CompleteSessionRequest) (*Result, error) {
	pd := req.PaymentData
	credential := strings.TrimSpace(string(pd.Credential))
	if credential == "" {
		return nil, checkout.ErrMissingCredential
	}
	log := logger.With(ctx, s.logger).With(zap.String("session_id", id.String()))

	timeout := s.settlementTimeout(req.TimeoutMS)
	instrument := checkout.PaymentInstrument{
		ID:          pd.ID,
		HandlerID:   pd.HandlerID,
		HandlerName: pd.HandlerName,
		Type:        pd.Type,
	}

	var expected int64
	now := s.now()
	_, err := s.store.WithLock(ctx, id, func(session *checkout.Session) (bool, error) {
		recovered := session.RecoverStaleSettlement(now)
		if session.Processing != nil && session.Processing.IdempotencyKey == key {
			return recovered, checkout.ErrStillProcessing
		}
		amount, err := valueobject.ConvertMinorUnits(session.Amount(), s.opts.BaseUnitsPerMinorUnit)
		if err != nil {
			return recovered, fmt.Errorf("convert amount: %w", err)
		}
		if err := session.BeginSettlement(instrument, key, amount, now.Add(timeout+s.opts.SettlementGrace), now); err != nil {
			return recovered, err
		}
		expected = amount
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("Settling checkout payment",
		zap.Int64("expected_amount", expected),
		zap.Duration("timeout", timeout),
	)
	settleCtx, cancel := context.WithTimeout(ctx, timeout)
	result, settleErr := s.settler.Settle(settleCtx, credential, expected, id.String())
	cancel()

	// the outcome is committed even if the caller went away
	commitCtx, cancelCommit := context.WithTimeout(context.WithoutCancel(ctx), s.opts.CommitTimeout)
	defer cancelCommit()

	session, err := s.commitSettlement(commitCtx, id, key, result, settleErr)
	if err != nil {
		log.Error("Failed to record settlement outcome", zap.Error(err), zap.NamedError("settlement_error", settleErr))
		return nil, err
	}
	s.publish(commitCtx, session)

	res, err := newResult(session)
	if err != nil {
		return nil, err
	}
	switch {
	case session.Status == checkout.StatusCompleted:
		log.Info("Checkout completed",
			zap.String("order_id", session.Order.ID),
			zap.String("transaction_id", result.TransactionID),
		)
		return res, nil
	case settleErr != nil:
		serr := settlement.AsError(settleErr)
		log.Info("Checkout failed", zap.String("kind", serr.Kind.String()))
		return nil, &SessionError{Err: serr, Checkout: res.Body}
	default:
		// the marker was recovered before the ledger answered
		log.Error("Settlement succeeded after the session was failed",
			zap.String("transaction_id", result.TransactionID),
			zap.String("status", session.Status.String()),
		)
		return nil, &SessionError{Err: sessionFailure(session), Checkout: res.Body}
	}
}

func sessionFailure(session *checkout.Session) *settlement.Error {
	if session.Failure == nil {
		return settlement.NewError(settlement.ErrKindTimeout, "settlement outcome was not recorded in time")
	}
	return &settlement.Error{
		Kind:      settlement.ErrorKind(session.Failure.Kind),
		Reason:    session.Failure.Reason,
		Transient: session.Failure.Transient,
	}
}

// commitSettlement records the settlement outcome on the session still marked
// with key. If the marker was recovered in the meantime the stored session is returned.
func (s *Service) commitSettlement(ctx context.Context, id uuid.UUID, key string, result *settlement.Result, settleErr error) (*checkout.Session, error) {
	for attempt := 0; ; attempt++ {
		now := s.now()
		session, err := s.store.WithLock(ctx, id, func(session *checkout.Session) (bool, error) {
			if session.Processing == nil || session.Processing.IdempotencyKey != key {
				return false, nil
			}
			if settleErr != nil {
				serr := settlement.AsError(settleErr)
				session.Fail(checkout.Failure{
					Kind:      serr.Kind.String(),
					Reason:    serr.Reason,
					Transient: serr.Transient,
				}, now)
				return true, nil
			}
			return true, session.Complete(s.orderFor(result), now)
		})
		if errors.Is(err, shared.ErrConcurrencyConflict) && attempt < s.opts.CommitRetries {
			continue
		}
		return session, err
	}
}

func (s *Service) orderFor(result *settlement.Result) checkout.Order {
	orderID := uuid.New().String()
	network := result.Network.String()
	permalink := orderID
	if s.opts.PermalinkBase != "" {
		permalink = strings.TrimRight(s.opts.PermalinkBase, "/") + "/" + orderID
	}
	return checkout.Order{
		ID:           orderID,
		PermalinkURL: permalink,
		Metadata: map[string]string{
			checkout.MetaTransactionID:       result.TransactionID,
			checkout.MetaNetwork:             network,
			checkout.MetaExplorerURL:         result.ExplorerURL,
			checkout.MetaConsensusTimestamp:  result.Timestamp.UTC().Format(time.RFC3339Nano),
			checkout.MetaPayer:               result.Payer,
			checkout.MetaAmount:              strconv.FormatInt(result.Amount, 10),
			checkout.MetaLedgerTransactionID: result.TransactionID,
			checkout.MetaLedgerExplorerURL:   result.ExplorerURL,
		},
	}
}

// settlementTimeout is the requested timeout capped by the server limit
func (s *Service) settlementTimeout(ms int) time.Duration {
	limit := s.opts.CompleteTimeout
	if ms <= 0 {
		return limit
	}
	if d := time.Duration(ms) * time.Millisecond; d < limit {
		return d
	}
	return limit
}
