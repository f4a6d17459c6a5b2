package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ucp/merchant/internal/domain/checkout"
	"github.com/ucp/merchant/internal/domain/shared"
	"go.uber.org/zap"
)

const sessionLockPrefix = "checkout:session:"

// SessionStore serializes access to sessions. Mutations hold the per-session
// lock only while reading and writing; slow work happens on a working copy in between.
type SessionStore struct {
	repo     checkout.SessionRepository
	locker   shared.Locker
	readWait time.Duration
	logger   *zap.Logger
}

// NewSessionStore creates a store over repo guarded by locker
func NewSessionStore(repo checkout.SessionRepository, locker shared.Locker, readWait time.Duration, logger *zap.Logger) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{repo: repo, locker: locker, readWait: readWait, logger: logger}
}

// Create stores a new session
func (s *SessionStore) Create(ctx context.Context, session *checkout.Session) error {
	if err := s.repo.Create(ctx, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// WithLock runs fn on the session while holding its lock. If fn returns
// save=true the session is written back with a version check.
func (s *SessionStore) WithLock(ctx context.Context, id uuid.UUID, fn func(session *checkout.Session) (save bool, err error)) (*checkout.Session, error) {
	unlock, err := s.locker.Lock(ctx, sessionLockPrefix+id.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	save, fnErr := fn(session)
	if save {
		if err := s.repo.Save(ctx, session); err != nil {
			return nil, err
		}
	}
	if fnErr != nil {
		return session, fnErr
	}
	return session, nil
}

// Remove deletes the session under its lock when keep returns false.
// Returns whether the session was deleted.
func (s *SessionStore) Remove(ctx context.Context, id uuid.UUID, purger checkout.SessionPurger, keep func(session *checkout.Session) bool) (bool, error) {
	unlock, err := s.locker.Lock(ctx, sessionLockPrefix+id.String())
	if err != nil {
		return false, err
	}
	defer unlock()

	session, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, checkout.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if keep(session) {
		return false, nil
	}
	if err := purger.Delete(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// Load returns a working copy of the session, reading under the lock. A
// settlement that outlived its deadline is failed and written back first.
func (s *SessionStore) Load(ctx context.Context, id uuid.UUID, now time.Time) (*checkout.Session, error) {
	return s.WithLock(ctx, id, func(session *checkout.Session) (bool, error) {
		if session.RecoverStaleSettlement(now) {
			s.logger.Warn("Recovered stale settlement", zap.String("session_id", id.String()))
			return true, nil
		}
		return false, nil
	})
}

// CommitIfUnchanged writes working if the stored version still equals base.
// Returns shared.ErrConcurrencyConflict when another write landed in between.
func (s *SessionStore) CommitIfUnchanged(ctx context.Context, working *checkout.Session, base int) error {
	_, err := s.WithLock(ctx, working.ID, func(current *checkout.Session) (bool, error) {
		if current.Version != base {
			return false, shared.ErrConcurrencyConflict
		}
		working.Version = base
		if err := s.repo.Save(ctx, working); err != nil {
			return false, err
		}
		return false, nil
	})
	return err
}

// Snapshot returns the session, waiting at most the configured read wait for
// the lock. When the wait runs out the last committed state is returned with busy set.
func (s *SessionStore) Snapshot(ctx context.Context, id uuid.UUID, now time.Time) (*checkout.Session, bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.readWait)
	defer cancel()

	session, err := s.WithLock(waitCtx, id, func(session *checkout.Session) (bool, error) {
		return session.RecoverStaleSettlement(now), nil
	})
	if err == nil {
		return session, false, nil
	}
	if !errors.Is(err, shared.ErrLockTimeout) || ctx.Err() != nil {
		return nil, false, err
	}

	s.logger.Debug("Session busy, returning last committed snapshot", zap.String("session_id", id.String()))
	session, err = s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}
