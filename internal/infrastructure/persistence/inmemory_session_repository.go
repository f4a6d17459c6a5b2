package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ucp/merchant/internal/domain/checkout"
	"github.com/ucp/merchant/internal/domain/shared"
)

// InMemorySessionRepository implements checkout.SessionRepository in process memory.
// Stored sessions are copies; callers never share state with the map.
type InMemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*checkout.Session
}

// NewInMemorySessionRepository creates an empty repository
func NewInMemorySessionRepository() *InMemorySessionRepository {
	return &InMemorySessionRepository{
		sessions: make(map[uuid.UUID]*checkout.Session),
	}
}

// FindByID returns a copy of the stored session
func (r *InMemorySessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*checkout.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, checkout.ErrSessionNotFound
	}
	return s.Clone(), nil
}

// Create stores a copy of a new session
func (r *InMemorySessionRepository) Create(ctx context.Context, session *checkout.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return shared.ErrAlreadyExists
	}
	r.sessions[session.ID] = session.Clone()
	return nil
}

// Save replaces the stored session if versions match
func (r *InMemorySessionRepository) Save(ctx context.Context, session *checkout.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[session.ID]
	if !ok {
		return checkout.ErrSessionNotFound
	}
	if current.Version != session.Version {
		return shared.ErrConcurrencyConflict
	}

	stored := session.Clone()
	stored.Version = current.Version + 1
	r.sessions[session.ID] = stored
	session.Version = stored.Version
	return nil
}

// FindExpired lists non-terminal sessions that expired before the given time
func (r *InMemorySessionRepository) FindExpired(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	expired := make([]*checkout.Session, 0)
	for _, s := range r.sessions {
		if s.IsExpired(before) {
			expired = append(expired, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	ids := make([]uuid.UUID, len(expired))
	for i, s := range expired {
		ids[i] = s.ID
	}
	return ids, nil
}

// Delete removes a session
func (r *InMemorySessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions
func (r *InMemorySessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

var (
	_ checkout.SessionRepository = (*InMemorySessionRepository)(nil)
	_ checkout.SessionPurger     = (*InMemorySessionRepository)(nil)
)
