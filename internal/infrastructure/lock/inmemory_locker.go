package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/ucp/merchant/internal/domain/shared"
	"golang.org/x/sync/semaphore"
)

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

// InMemoryLocker serializes work per key inside one process. Locks for
// different keys never contend.
type InMemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewInMemoryLocker creates an empty locker
func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is held or ctx is done
func (l *InMemoryLocker) Lock(ctx context.Context, key string) (shared.UnlockFunc, error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: semaphore.NewWeighted(1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	if err := kl.sem.Acquire(ctx, 1); err != nil {
		l.release(key, kl, false)
		return nil, fmt.Errorf("%w: %s: %w", shared.ErrLockTimeout, key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, kl, true) })
	}, nil
}

func (l *InMemoryLocker) release(key string, kl *keyLock, held bool) {
	if held {
		kl.sem.Release(1)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// Len returns the number of keys currently held or awaited
func (l *InMemoryLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

var _ shared.Locker = (*InMemoryLocker)(nil)
