package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDomainError_IsMatchesByCode(t *testing.T) {
	specific := NewDomainError(ErrLockTimeout.Code, "Timed out waiting for checkout:session:1")
	wrapped := fmt.Errorf("load session: %w", specific)

	assert.ErrorIs(t, wrapped, ErrLockTimeout)
	assert.NotErrorIs(t, wrapped, ErrConcurrencyConflict)
	assert.False(t, errors.Is(errors.New("LOCK_TIMEOUT"), ErrLockTimeout))
	assert.Equal(t, "load session: Timed out waiting for checkout:session:1", wrapped.Error())
}

func TestBaseAggregateRoot_Events(t *testing.T) {
	root := NewBaseAggregateRoot()
	assert.Equal(t, 1, root.Version)
	assert.NotEqual(t, uuid.Nil, root.ID)
	assert.Equal(t, root.CreatedAt, root.UpdatedAt)

	e := NewBaseDomainEvent("thing.happened", "Thing", root.ID)
	root.AddDomainEvent(&e)
	events := root.GetDomainEvents()
	if assert.Len(t, events, 1) {
		assert.Equal(t, "thing.happened", events[0].EventType())
		assert.Equal(t, root.ID, events[0].AggregateID())
		assert.Equal(t, "Thing", events[0].AggregateType())
	}

	root.ClearDomainEvents()
	assert.Empty(t, root.GetDomainEvents())
}
