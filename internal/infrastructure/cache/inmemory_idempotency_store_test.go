package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucp/merchant/internal/domain/shared"
)

func TestInMemoryIdempotencyStore(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()

	t.Run("unknown key returns nil", func(t *testing.T) {
		rec, err := store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("stores and replays payload", func(t *testing.T) {
		stored, err := store.Store(ctx, "k1", &shared.IdempotencyRecord{Fingerprint: "f1", Payload: []byte(`{"id":"s1"}`)}, time.Hour)
		require.NoError(t, err)
		assert.True(t, stored)

		rec, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "f1", rec.Fingerprint)
		assert.Equal(t, `{"id":"s1"}`, string(rec.Payload))
		assert.False(t, rec.CreatedAt.IsZero())
	})

	t.Run("first outcome wins", func(t *testing.T) {
		_, err := store.Store(ctx, "k2", &shared.IdempotencyRecord{Payload: []byte("first")}, time.Hour)
		require.NoError(t, err)
		stored, err := store.Store(ctx, "k2", &shared.IdempotencyRecord{Payload: []byte("second")}, time.Hour)
		require.NoError(t, err)
		assert.False(t, stored)

		rec, err := store.Get(ctx, "k2")
		require.NoError(t, err)
		assert.Equal(t, "first", string(rec.Payload))
	})

	t.Run("returned payload is a copy", func(t *testing.T) {
		_, err := store.Store(ctx, "k3", &shared.IdempotencyRecord{Payload: []byte("abc")}, time.Hour)
		require.NoError(t, err)
		rec, _ := store.Get(ctx, "k3")
		rec.Payload[0] = 'z'
		again, _ := store.Get(ctx, "k3")
		assert.Equal(t, "abc", string(again.Payload))
	})
}

func TestInMemoryIdempotencyStore_Expiry(t *testing.T) {
	now := time.Now()
	store := NewInMemoryIdempotencyStore(WithClock(func() time.Time { return now }))
	defer store.Close()
	ctx := context.Background()

	_, err := store.Store(ctx, "k", &shared.IdempotencyRecord{Payload: []byte("v")}, time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	rec, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, rec)

	stored, err := store.Store(ctx, "k", &shared.IdempotencyRecord{Payload: []byte("v2")}, time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)

	now = now.Add(2 * time.Minute)
	store.dropExpired()
	assert.Equal(t, 0, store.Size())
}

func TestInMemoryIdempotencyStore_ConcurrentStore(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Store(ctx, "same", &shared.IdempotencyRecord{Payload: []byte("x")}, time.Hour)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestInMemoryIdempotencyStore_CloseTwice(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
