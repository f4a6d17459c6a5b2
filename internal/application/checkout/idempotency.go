package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ucp/merchant/internal/domain/checkout"
	"github.com/ucp/merchant/internal/domain/settlement"
	"github.com/ucp/merchant/internal/domain/shared"
	"go.uber.org/zap"
)

// Operation names, also used as metric labels
const (
	OperationCreate   = "create"
	OperationUpdate   = "update"
	OperationComplete = "complete"
	OperationGet      = "get"
)

const idempotencyLockPrefix = "checkout:idempotency:"

type storedOutcome struct {
	Created  bool            `json:"created,omitempty"`
	Checkout json.RawMessage `json:"checkout,omitempty"`
	Error    *storedError    `json:"error,omitempty"`
}

type storedError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Settlement bool   `json:"settlement,omitempty"`
	Transient  bool   `json:"transient,omitempty"`
}

// idempotencyScope identifies one (operation, session, key) outcome
type idempotencyScope struct {
	key         string
	fingerprint string
}

func newIdempotencyScope(operation, sessionID, key string, request any) (idempotencyScope, error) {
	if key == "" {
		return idempotencyScope{}, ErrIdempotencyKeyRequired
	}
	body, err := json.Marshal(request)
	if err != nil {
		return idempotencyScope{}, fmt.Errorf("fingerprint request: %w", err)
	}
	sum := sha256.Sum256(append([]byte(operation+"\x00"+sessionID+"\x00"), body...))
	return idempotencyScope{
		key:         fmt.Sprintf("%s:%s:%s", operation, sessionID, key),
		fingerprint: hex.EncodeToString(sum[:]),
	}, nil
}

// runIdempotent replays a stored outcome for scope or runs fn and stores what it produced
func (s *Service) runIdempotent(ctx context.Context, scope idempotencyScope, fn func() (*Result, error)) (*Result, error) {
	unlock, err := s.locker.Lock(ctx, idempotencyLockPrefix+scope.key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if res, found, err := s.replay(ctx, scope); found {
		return res, err
	}

	res, fnErr := fn()
	s.remember(ctx, scope, res, fnErr)
	return res, fnErr
}

func (s *Service) replay(ctx context.Context, scope idempotencyScope) (*Result, bool, error) {
	rec, err := s.idempotency.Get(ctx, scope.key)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed, executing request", zap.Error(err))
		return nil, false, nil
	}
	if rec == nil {
		return nil, false, nil
	}
	if rec.Fingerprint != scope.fingerprint {
		return nil, true, ErrIdempotencyKeyReused
	}

	var out storedOutcome
	if err := json.Unmarshal(rec.Payload, &out); err != nil {
		s.logger.Error("Stored idempotent outcome is unreadable", zap.Error(err))
		return nil, false, nil
	}
	if out.Error != nil {
		var cause error
		if out.Error.Settlement {
			cause = &settlement.Error{
				Kind:      settlement.ErrorKind(out.Error.Code),
				Reason:    out.Error.Message,
				Transient: out.Error.Transient,
			}
		} else {
			cause = shared.NewDomainError(out.Error.Code, out.Error.Message)
		}
		if len(out.Checkout) > 0 {
			return nil, true, &SessionError{Err: cause, Checkout: out.Checkout}
		}
		return nil, true, cause
	}

	res := &Result{Body: out.Checkout, Created: out.Created, Replayed: true}
	var view SessionResponse
	if err := json.Unmarshal(out.Checkout, &view); err == nil {
		res.Session = &view
	}
	return res, true, nil
}

func (s *Service) remember(ctx context.Context, scope idempotencyScope, res *Result, err error) {
	out, ok := outcomeFor(res, err)
	if !ok {
		return
	}
	payload, mErr := json.Marshal(out)
	if mErr != nil {
		s.logger.Error("Failed to encode idempotent outcome", zap.Error(mErr))
		return
	}
	rec := &shared.IdempotencyRecord{
		Fingerprint: scope.fingerprint,
		Payload:     payload,
		CreatedAt:   s.now().UTC(),
	}
	// the outcome must be recorded even when the caller went away
	if _, sErr := s.idempotency.Store(context.WithoutCancel(ctx), scope.key, rec, expiresIn(s.opts.IdempotencyTTL)); sErr != nil {
		s.logger.Warn("Failed to store idempotent outcome", zap.String("key", scope.key), zap.Error(sErr))
	}
}

// outcomeFor reports whether an outcome is final for its key. Lock timeouts,
// in-flight settlements and infrastructure failures may succeed on a retry.
func outcomeFor(res *Result, err error) (storedOutcome, bool) {
	if err == nil {
		if res == nil {
			return storedOutcome{}, false
		}
		return storedOutcome{Created: res.Created, Checkout: res.Body}, true
	}

	var checkoutBody json.RawMessage
	var se *SessionError
	if errors.As(err, &se) {
		checkoutBody = se.Checkout
	}

	var serr *settlement.Error
	if errors.As(err, &serr) {
		return storedOutcome{
			Checkout: checkoutBody,
			Error: &storedError{
				Code:       serr.Kind.String(),
				Message:    serr.Reason,
				Settlement: true,
				Transient:  serr.Transient,
			},
		}, true
	}

	var de *shared.DomainError
	if !errors.As(err, &de) || retryable(de) {
		return storedOutcome{}, false
	}
	return storedOutcome{
		Checkout: checkoutBody,
		Error:    &storedError{Code: de.Code, Message: de.Message},
	}, true
}

func retryable(de *shared.DomainError) bool {
	for _, e := range []error{
		shared.ErrLockTimeout,
		shared.ErrConcurrencyConflict,
		checkout.ErrSettlementInProgress,
		checkout.ErrStillProcessing,
		ErrIdempotencyKeyReused,
	} {
		if errors.Is(de, e) {
			return true
		}
	}
	return false
}

func expiresIn(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 24 * time.Hour
	}
	return ttl
}
