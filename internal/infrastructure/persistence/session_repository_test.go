package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucp/merchant/internal/domain/checkout"
	"github.com/ucp/merchant/internal/domain/shared"
	"github.com/ucp/merchant/internal/infrastructure/config"
)

func newTestSession(t *testing.T) *checkout.Session {
	t.Helper()
	s, err := checkout.NewSession("USD", []checkout.LineItemDraft{
		{Item: checkout.Item{ID: "bouquet_roses", Title: "Red Rose", Price: 1000}, Quantity: 2},
	}, &checkout.Buyer{FullName: "John Doe", Email: "john.doe@example.com"}, []checkout.PaymentHandler{
		{ID: "hedera_payment", Name: "com.hedera.hbar", Version: "2026-01-11"},
	}, time.Hour)
	require.NoError(t, err)
	s.Reprice(checkout.NewDiscountTable(), time.Now())
	return s
}

func setupSessionTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(&config.DatabaseConfig{Driver: DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func repositories(t *testing.T) map[string]checkout.SessionRepository {
	return map[string]checkout.SessionRepository{
		"memory": NewInMemorySessionRepository(),
		"sqlite": NewGormSessionRepository(setupSessionTestDB(t).DB),
	}
}

func TestSessionRepository(t *testing.T) {
	ctx := context.Background()

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("create and find round trip", func(t *testing.T) {
				s := newTestSession(t)
				require.NoError(t, repo.Create(ctx, s))

				found, err := repo.FindByID(ctx, s.ID)
				require.NoError(t, err)
				assert.Equal(t, s.ID, found.ID)
				assert.Equal(t, s.Version, found.Version)
				assert.Equal(t, checkout.StatusOpen, found.Status)
				assert.Equal(t, int64(2000), found.Amount())
				require.Len(t, found.LineItems, 1)
				assert.Equal(t, s.LineItems[0].ID, found.LineItems[0].ID)
				assert.Equal(t, "john.doe@example.com", found.Buyer.Email)
				assert.True(t, s.ExpiresAt.Equal(found.ExpiresAt))
			})

			t.Run("missing session is not found", func(t *testing.T) {
				_, err := repo.FindByID(ctx, uuid.New())
				assert.ErrorIs(t, err, checkout.ErrSessionNotFound)
			})

			t.Run("duplicate create is rejected", func(t *testing.T) {
				s := newTestSession(t)
				require.NoError(t, repo.Create(ctx, s))
				assert.ErrorIs(t, repo.Create(ctx, s), shared.ErrAlreadyExists)
			})

			t.Run("save increments version", func(t *testing.T) {
				s := newTestSession(t)
				require.NoError(t, repo.Create(ctx, s))

				loaded, err := repo.FindByID(ctx, s.ID)
				require.NoError(t, err)
				_, err = loaded.ReplaceLineItems([]checkout.LineItemDraft{
					{ID: loaded.LineItems[0].ID, Item: loaded.LineItems[0].Item, Quantity: 3},
				})
				require.NoError(t, err)
				loaded.Reprice(checkout.NewDiscountTable(), time.Now())
				require.NoError(t, repo.Save(ctx, loaded))
				assert.Equal(t, s.Version+1, loaded.Version)

				again, err := repo.FindByID(ctx, s.ID)
				require.NoError(t, err)
				assert.Equal(t, loaded.Version, again.Version)
				assert.Equal(t, int64(3000), again.Amount())
				assert.Len(t, again.Totals, 2)
			})

			t.Run("stale version conflicts", func(t *testing.T) {
				s := newTestSession(t)
				require.NoError(t, repo.Create(ctx, s))

				first, err := repo.FindByID(ctx, s.ID)
				require.NoError(t, err)
				second, err := repo.FindByID(ctx, s.ID)
				require.NoError(t, err)

				require.NoError(t, repo.Save(ctx, first))
				err = repo.Save(ctx, second)
				assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
				assert.Equal(t, s.Version, second.Version)
			})

			t.Run("save of unknown session is not found", func(t *testing.T) {
				s := newTestSession(t)
				assert.ErrorIs(t, repo.Save(ctx, s), checkout.ErrSessionNotFound)
			})
		})
	}
}

func TestSessionPurger(t *testing.T) {
	ctx := context.Background()
	purgers := map[string]interface {
		checkout.SessionRepository
		checkout.SessionPurger
	}{
		"memory": NewInMemorySessionRepository(),
		"sqlite": NewGormSessionRepository(setupSessionTestDB(t).DB),
	}

	for name, repo := range purgers {
		t.Run(name, func(t *testing.T) {
			open := newTestSession(t)
			require.NoError(t, repo.Create(ctx, open))
			failed := newTestSession(t)
			failed.Fail(checkout.Failure{Kind: checkout.FailureKindTimeout, Reason: "gone"}, time.Now())
			require.NoError(t, repo.Create(ctx, failed))

			ids, err := repo.FindExpired(ctx, time.Now(), 10)
			require.NoError(t, err)
			assert.Empty(t, ids)

			ids, err = repo.FindExpired(ctx, time.Now().Add(2*time.Hour), 10)
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{open.ID}, ids)

			require.NoError(t, repo.Delete(ctx, open.ID))
			_, err = repo.FindByID(ctx, open.ID)
			assert.ErrorIs(t, err, checkout.ErrSessionNotFound)
			assert.NoError(t, repo.Delete(ctx, open.ID))

			_, err = repo.FindByID(ctx, failed.ID)
			assert.NoError(t, err)
		})
	}
}

func TestInMemorySessionRepository_Isolation(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemorySessionRepository()
	s := newTestSession(t)
	require.NoError(t, repo.Create(ctx, s))

	s.LineItems[0].Quantity = 99

	found, err := repo.FindByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, found.LineItems[0].Quantity)
	assert.Equal(t, 1, repo.Len())
}

func TestNewDatabase(t *testing.T) {
	t.Run("rejects unknown driver", func(t *testing.T) {
		_, err := NewDatabase(&config.DatabaseConfig{Driver: "oracle"})
		require.Error(t, err)
	})

	t.Run("sqlite in memory", func(t *testing.T) {
		db := setupSessionTestDB(t)
		require.NoError(t, db.Ping())
		assert.Equal(t, 1, db.Stats().MaxOpenConnections)
	})
}
