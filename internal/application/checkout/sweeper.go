package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/ucp/merchant/internal/domain/checkout"
	"github.com/ucp/merchant/internal/domain/shared"
	"github.com/ucp/merchant/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// OperationSweep labels sweeper runs in metrics
const OperationSweep = "sweep"

// SweeperConfig holds the collaborators of a Sweeper
type SweeperConfig struct {
	Repository checkout.SessionRepository
	Purger     checkout.SessionPurger
	Locker     shared.Locker
	// Retention is how long past its expiry an abandoned session is kept
	Retention time.Duration
	BatchSize int
	Metrics   *telemetry.CheckoutMetrics
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Sweeper deletes sessions that expired without reaching a terminal status.
// Sessions with a settlement in flight are left alone.
type Sweeper struct {
	store     *SessionStore
	purger    checkout.SessionPurger
	retention time.Duration
	batch     int
	metrics   *telemetry.CheckoutMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewSweeper creates a sweeper
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	switch {
	case cfg.Repository == nil:
		return nil, errors.New("sweeper: repository is required")
	case cfg.Purger == nil:
		return nil, errors.New("sweeper: purger is required")
	case cfg.Locker == nil:
		return nil, errors.New("sweeper: locker is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		store:     NewSessionStore(cfg.Repository, cfg.Locker, 0, log),
		purger:    cfg.Purger,
		retention: cfg.Retention,
		batch:     batch,
		metrics:   cfg.Metrics,
		logger:    log,
		now:       clock,
	}, nil
}

// Name identifies the sweeper in scheduler logs
func (w *Sweeper) Name() string {
	return "checkout-session-sweeper"
}

// Run removes one batch of abandoned sessions
func (w *Sweeper) Run(ctx context.Context) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "checkout", OperationSweep)
	defer span.End()

	now := w.now()
	cutoff := now.Add(-w.retention)
	ids, err := w.purger.FindExpired(ctx, cutoff, w.batch)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	removed := 0
	var errs []error
	for _, id := range ids {
		ok, err := w.store.Remove(ctx, id, w.purger, func(session *checkout.Session) bool {
			return !session.IsExpired(cutoff) || session.IsProcessing(now)
		})
		if err != nil {
			w.logger.Warn("Failed to remove expired session", zap.String("session_id", id.String()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}

	telemetry.SetAttributes(span, "sessions.candidates", len(ids), "sessions.removed", removed)
	if w.metrics != nil {
		result := telemetry.ResultOK
		if len(errs) > 0 {
			result = telemetry.ResultError
		}
		w.metrics.RecordRequest(ctx, OperationSweep, result)
	}
	if removed > 0 {
		w.logger.Info("Removed expired checkout sessions",
			zap.Int("removed", removed),
			zap.Time("cutoff", cutoff),
		)
	}
	if err := errors.Join(errs...); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}
