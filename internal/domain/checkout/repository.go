package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionRepository persists checkout sessions
type SessionRepository interface {
	// FindByID returns a copy of the stored session, or ErrSessionNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*Session, error)

	// Create stores a new session
	Create(ctx context.Context, session *Session) error

	// Save stores the session if the stored version equals session.Version,
	// then increments the version. Returns shared.ErrConcurrencyConflict otherwise.
	Save(ctx context.Context, session *Session) error
}

// SessionPurger removes abandoned sessions
type SessionPurger interface {
	// FindExpired returns up to limit ids of non-terminal sessions whose
	// expiry is before the given time, oldest first
	FindExpired(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)

	// Delete removes the session; deleting an unknown id is not an error
	Delete(ctx context.Context, id uuid.UUID) error
}
