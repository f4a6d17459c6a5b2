package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ucp/merchant/internal/domain/shared"
)

const defaultSweepInterval = 5 * time.Minute

// InMemoryIdempotencyStore keeps idempotency records in process memory.
// Records vanish on restart, so it serves single instances and tests.
type InMemoryIdempotencyStore struct {
	mu      sync.RWMutex
	records map[string]memRecord
	clock   func() time.Time

	stop context.CancelFunc
	done chan struct{}
}

type memRecord struct {
	shared.IdempotencyRecord
	deadline time.Time
}

func (r memRecord) live(now time.Time) bool { return now.Before(r.deadline) }

// InMemoryOption configures an InMemoryIdempotencyStore
type InMemoryOption func(*InMemoryIdempotencyStore)

// WithClock replaces time.Now
func WithClock(clock func() time.Time) InMemoryOption {
	return func(s *InMemoryIdempotencyStore) { s.clock = clock }
}

// NewInMemoryIdempotencyStore creates the store and starts the goroutine
// that drops expired records every five minutes until Close.
func NewInMemoryIdempotencyStore(opts ...InMemoryOption) *InMemoryIdempotencyStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &InMemoryIdempotencyStore{
		records: make(map[string]memRecord),
		clock:   time.Now,
		stop:    cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweep(ctx, defaultSweepInterval)
	return s
}

// Get returns a copy of the live record for key, or nil
func (s *InMemoryIdempotencyStore) Get(_ context.Context, key string) (*shared.IdempotencyRecord, error) {
	s.mu.RLock()
	r, ok := s.records[key]
	s.mu.RUnlock()

	if !ok || !r.live(s.clock()) {
		return nil, nil
	}
	out := r.IdempotencyRecord
	out.Payload = slices.Clone(r.Payload)
	return &out, nil
}

// Store keeps the first live record per key and reports whether record won
func (s *InMemoryIdempotencyStore) Store(_ context.Context, key string, record *shared.IdempotencyRecord, ttl time.Duration) (bool, error) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[key]; ok && r.live(now) {
		return false, nil
	}

	r := memRecord{IdempotencyRecord: *record, deadline: now.Add(ttl)}
	r.Payload = slices.Clone(record.Payload)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now.UTC()
	}
	s.records[key] = r
	return true, nil
}

// Close stops the sweep goroutine. It may be called more than once.
func (s *InMemoryIdempotencyStore) Close() error {
	s.stop()
	<-s.done
	return nil
}

// Size counts stored records, expired ones included until the next sweep
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *InMemoryIdempotencyStore) sweep(ctx context.Context, every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dropExpired()
		}
	}
}

func (s *InMemoryIdempotencyStore) dropExpired() {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, r := range s.records {
		if !r.live(now) {
			delete(s.records, key)
		}
	}
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
