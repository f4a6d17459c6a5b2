// Package checkout implements the checkout protocol: sessions are created,
// updated and completed through idempotent calls, and completing a session
// settles a buyer-signed ledger transfer.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/ucp/merchant/internal/domain/checkout"
	"github.com/ucp/merchant/internal/domain/settlement"
	"github.com/ucp/merchant/internal/domain/shared"
	"github.com/ucp/merchant/internal/domain/shared/valueobject"
	"github.com/ucp/merchant/internal/infrastructure/logger"
	"github.com/ucp/merchant/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Settler settles a payment credential for at least expectedAmount ledger base units
type Settler interface {
	Settle(ctx context.Context, credential string, expectedAmount int64, sessionID string) (*settlement.Result, error)
}

// Options are the protocol limits
type Options struct {
	SessionTTL      time.Duration
	ReadWait        time.Duration
	CompleteTimeout time.Duration
	// SettlementGrace is added to the settlement timeout for the processing marker deadline
	SettlementGrace time.Duration
	// CommitTimeout bounds writing the settlement outcome after the ledger answered
	CommitTimeout         time.Duration
	CommitRetries         int
	PermalinkBase         string
	BaseUnitsPerMinorUnit decimal.Decimal
	IdempotencyTTL        time.Duration
}

// ServiceConfig holds the collaborators of a Service
type ServiceConfig struct {
	Repository  checkout.SessionRepository
	Locker      shared.Locker
	Idempotency shared.IdempotencyStore
	Catalog     checkout.Catalog
	Fulfillment checkout.FulfillmentProvider
	Discovery   checkout.Discovery
	Discounts   checkout.DiscountPolicy
	Settler     Settler
	Events      shared.EventPublisher
	Metrics     *telemetry.CheckoutMetrics
	Logger      *zap.Logger
	Clock       func() time.Time
	Options     Options
}

// Service is the checkout protocol handler
type Service struct {
	store       *SessionStore
	locker      shared.Locker
	idempotency shared.IdempotencyStore
	catalog     checkout.Catalog
	fulfillment checkout.FulfillmentProvider
	discovery   checkout.Discovery
	discounts   checkout.DiscountPolicy
	settler     Settler
	events      shared.EventPublisher
	metrics     *telemetry.CheckoutMetrics
	logger      *zap.Logger
	now         func() time.Time
	opts        Options
}

// NewService creates the checkout service
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Repository == nil:
		return nil, errors.New("checkout: repository is required")
	case cfg.Locker == nil:
		return nil, errors.New("checkout: locker is required")
	case cfg.Idempotency == nil:
		return nil, errors.New("checkout: idempotency store is required")
	case cfg.Catalog == nil:
		return nil, errors.New("checkout: catalog is required")
	case cfg.Fulfillment == nil:
		return nil, errors.New("checkout: fulfillment provider is required")
	case cfg.Discovery == nil:
		return nil, errors.New("checkout: discovery is required")
	case cfg.Settler == nil:
		return nil, errors.New("checkout: settler is required")
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	opts := cfg.Options
	if opts.ReadWait <= 0 {
		opts.ReadWait = 2 * time.Second
	}
	if opts.CompleteTimeout <= 0 {
		opts.CompleteTimeout = 30 * time.Second
	}
	if opts.SettlementGrace < 0 {
		opts.SettlementGrace = 0
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 10 * time.Second
	}
	if opts.CommitRetries < 0 {
		opts.CommitRetries = 0
	}
	if opts.BaseUnitsPerMinorUnit.Sign() <= 0 {
		opts.BaseUnitsPerMinorUnit = decimal.NewFromInt(1)
	}

	return &Service{
		store:       NewSessionStore(cfg.Repository, cfg.Locker, opts.ReadWait, log),
		locker:      cfg.Locker,
		idempotency: cfg.Idempotency,
		catalog:     cfg.Catalog,
		fulfillment: cfg.Fulfillment,
		discovery:   cfg.Discovery,
		discounts:   cfg.Discounts,
		settler:     cfg.Settler,
		events:      cfg.Events,
		metrics:     cfg.Metrics,
		logger:      log,
		now:         clock,
		opts:        opts,
	}, nil
}

// Create creates a session. Result.Created is set on first execution.
func (s *Service) Create(ctx context.Context, idempotencyKey string, req CreateSessionRequest) (*Result, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "checkout", OperationCreate,
		telemetry.WithAttribute(telemetry.SpanAttrOperation, OperationCreate))
	defer span.End()

	scope, err := newIdempotencyScope(OperationCreate, "", idempotencyKey, req)
	if err != nil {
		return s.finish(ctx, span, OperationCreate, nil, err)
	}
	res, err := s.runIdempotent(ctx, scope, func() (*Result, error) {
		return s.create(ctx, req)
	})
	return s.finish(ctx, span, OperationCreate, res, err)
}

func (s *Service) create(ctx context.Context, req CreateSessionRequest) (*Result, error) {
	drafts, err := s.resolveLineItems(ctx, req.LineItems)
	if err != nil {
		return nil, err
	}
	caps := s.discovery.Capabilities(ctx)

	session, err := checkout.NewSession(req.Currency, drafts, req.Buyer.toDomain(), caps.Handlers, s.opts.SessionTTL)
	if err != nil {
		return nil, err
	}
	if req.Payment != nil {
		if err := session.ReplacePayment(req.Payment.instruments(), req.Payment.SelectedInstrumentID); err != nil {
			return nil, err
		}
	}
	if req.Fulfillment != nil {
		if err := session.ApplyFulfillment(req.Fulfillment.toDomain(), caps); err != nil {
			return nil, err
		}
	}
	if err := s.resolveFulfillment(ctx, session); err != nil {
		return nil, err
	}
	session.Reprice(s.discounts, s.now())
	session.AddDomainEvent(checkout.NewSessionCreatedEvent(session))

	if err := s.store.Create(ctx, session); err != nil {
		return nil, err
	}
	s.publish(ctx, session)

	logger.With(ctx, s.logger).Info("Checkout session created",
		zap.String("session_id", session.ID.String()),
		zap.Int("line_items", len(session.LineItems)),
		zap.Int64("amount", session.Amount()),
	)
	res, err := newResult(session)
	if err != nil {
		return nil, err
	}
	res.Created = true
	return res, nil
}

// Update replaces the session's cart and recomputes totals and fulfillment
func (s *Service) Update(ctx context.Context, id, idempotencyKey string, req UpdateSessionRequest) (*Result, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "checkout", OperationUpdate,
		telemetry.WithAttribute(telemetry.SpanAttrOperation, OperationUpdate),
		telemetry.WithAttribute(telemetry.SpanAttrSessionID, id))
	defer span.End()

	sessionID, err := parseSessionID(id)
	if err != nil {
		return s.finish(ctx, span, OperationUpdate, nil, err)
	}
	if req.ID != "" && req.ID != id {
		return s.finish(ctx, span, OperationUpdate, nil, ErrSessionIDMismatch)
	}
	if req.Payment == nil {
		return s.finish(ctx, span, OperationUpdate, nil, ErrPaymentRequired)
	}
	scope, err := newIdempotencyScope(OperationUpdate, id, idempotencyKey, req)
	if err != nil {
		return s.finish(ctx, span, OperationUpdate, nil, err)
	}
	res, err := s.runIdempotent(ctx, scope, func() (*Result, error) {
		return s.update(ctx, sessionID, req)
	})
	return s.finish(ctx, span, OperationUpdate, res, err)
}

func (s *Service) update(ctx context.Context, id uuid.UUID, req UpdateSessionRequest) (*Result, error) {
	drafts, err := s.resolveLineItems(ctx, req.LineItems)
	if err != nil {
		return nil, err
	}
	caps := s.discovery.Capabilities(ctx)
	log := logger.With(ctx, s.logger).With(zap.String("session_id", id.String()))

	for attempt := 0; ; attempt++ {
		working, err := s.store.Load(ctx, id, s.now())
		if err != nil {
			return nil, err
		}
		base := working.Version

		if err := working.EnsureMutable(s.now()); err != nil {
			return nil, err
		}
		if err := applyUpdate(working, req, drafts, caps); err != nil {
			return nil, err
		}
		// collaborator calls run without the session lock
		if err := s.resolveFulfillment(ctx, working); err != nil {
			return nil, err
		}
		working.Reprice(s.discounts, s.now())
		working.AddDomainEvent(checkout.NewSessionUpdatedEvent(working))

		err = s.store.CommitIfUnchanged(ctx, working, base)
		if errors.Is(err, shared.ErrConcurrencyConflict) && attempt < s.opts.CommitRetries {
			log.Debug("Session changed during update, retrying", zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}

		s.publish(ctx, working)
		log.Info("Checkout session updated",
			zap.String("status", working.Status.String()),
			zap.Int64("amount", working.Amount()),
		)
		return newResult(working)
	}
}

func applyUpdate(session *checkout.Session, req UpdateSessionRequest, drafts []checkout.LineItemDraft, caps checkout.Capabilities) error {
	cur, err := valueobject.ParseCurrency(req.Currency)
	if err != nil {
		return shared.NewDomainError(checkout.ErrInvalidCurrency.Code,
			fmt.Sprintf("Currency %q is not an ISO 4217 code", req.Currency))
	}
	if cur != session.Currency {
		return shared.NewDomainError(checkout.ErrCurrencyMismatch.Code,
			fmt.Sprintf("Session currency is %s, request has %s", session.Currency, cur))
	}
	if _, err := session.ReplaceLineItems(drafts); err != nil {
		return err
	}
	if req.Buyer != nil {
		session.SetBuyer(req.Buyer.toDomain())
	}
	if req.Discounts != nil {
		session.SetDiscountCodes(req.Discounts.Codes)
	}
	if err := session.ReplacePayment(req.Payment.instruments(), req.Payment.SelectedInstrumentID); err != nil {
		return err
	}
	if req.Fulfillment != nil {
		if err := session.ApplyFulfillment(req.Fulfillment.toDomain(), caps); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the session. When the session is busy past the read wait, or a
// settlement is in flight, the last committed snapshot is returned with
// Result.StillProcessing set.
func (s *Service) Get(ctx context.Context, id string) (*Result, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "checkout", OperationGet,
		telemetry.WithAttribute(telemetry.SpanAttrOperation, OperationGet),
		telemetry.WithAttribute(telemetry.SpanAttrSessionID, id))
	defer span.End()

	sessionID, err := parseSessionID(id)
	if err != nil {
		return s.finish(ctx, span, OperationGet, nil, err)
	}
	now := s.now()
	session, busy, err := s.store.Snapshot(ctx, sessionID, now)
	if err != nil {
		return s.finish(ctx, span, OperationGet, nil, err)
	}
	res, err := newResult(session)
	if err != nil {
		return s.finish(ctx, span, OperationGet, nil, err)
	}
	res.StillProcessing = busy || session.IsProcessing(now)
	return s.finish(ctx, span, OperationGet, res, nil)
}

func (s *Service) resolveLineItems(ctx context.Context, items []LineItemRequest) ([]checkout.LineItemDraft, error) {
	if len(items) == 0 {
		return nil, checkout.ErrEmptyCart
	}
	drafts := make([]checkout.LineItemDraft, 0, len(items))
	for _, li := range items {
		product, err := s.catalog.Product(ctx, li.Item.ID)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, checkout.LineItemDraft{
			ID:       li.ID,
			Item:     product.AsItem(),
			Quantity: li.Quantity,
		})
	}
	return drafts, nil
}

// resolveFulfillment fills in candidate destinations, then option groups for
// selected destinations
func (s *Service) resolveFulfillment(ctx context.Context, session *checkout.Session) error {
	destinations, _ := session.PendingLookups()
	for _, methodID := range destinations {
		found, err := s.fulfillment.Destinations(ctx, session.MethodItems(methodID), session.Buyer)
		if err != nil {
			return fmt.Errorf("fulfillment destinations: %w", err)
		}
		if err := session.SetDestinations(methodID, found); err != nil {
			return err
		}
	}

	_, groups := session.PendingLookups()
	for _, methodID := range groups {
		method, ok := session.Fulfillment.Method(methodID)
		if !ok {
			continue
		}
		dest, ok := method.SelectedDestination()
		if !ok {
			continue
		}
		found, err := s.fulfillment.OptionGroups(ctx, session.MethodItems(methodID), *dest)
		if err != nil {
			return fmt.Errorf("fulfillment options: %w", err)
		}
		if err := session.SetGroups(methodID, found); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, session *checkout.Session) {
	events := session.GetDomainEvents()
	session.ClearDomainEvents()
	if s.events == nil || len(events) == 0 {
		return
	}
	if err := s.events.Publish(ctx, events...); err != nil {
		logger.With(ctx, s.logger).Warn("Failed to publish checkout events",
			zap.String("session_id", session.ID.String()),
			zap.Error(err),
		)
	}
}

// finish records metrics and span attributes for a protocol call
func (s *Service) finish(ctx context.Context, span trace.Span, operation string, res *Result, err error) (*Result, error) {
	result := telemetry.ResultOK
	switch {
	case err != nil && isClientError(err):
		result = telemetry.ResultRejected
		telemetry.SetAttributes(span, "error.code", errorCode(err))
	case err != nil:
		result = telemetry.ResultError
		telemetry.RecordError(span, err)
	case res.Replayed:
		result = telemetry.ResultReplayed
	}
	if res != nil && res.Session != nil {
		telemetry.SetAttributes(span,
			telemetry.SpanAttrSessionID, res.Session.ID,
			telemetry.SpanAttrSessionStatus, res.Session.Status,
			telemetry.SpanAttrIdempotentHit, res.Replayed,
		)
	}
	if err == nil {
		telemetry.SetOK(span)
	}
	s.metrics.RecordRequest(ctx, operation, result)
	return res, err
}

func isClientError(err error) bool {
	var serr *settlement.Error
	if errors.As(err, &serr) {
		return serr.Kind.ClientAttributable()
	}
	var de *shared.DomainError
	return errors.As(err, &de)
}

func errorCode(err error) string {
	var serr *settlement.Error
	if errors.As(err, &serr) {
		return serr.Kind.String()
	}
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func parseSessionID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, shared.NewDomainError(checkout.ErrSessionNotFound.Code,
			fmt.Sprintf("Checkout session %s not found", id))
	}
	return parsed, nil
}
