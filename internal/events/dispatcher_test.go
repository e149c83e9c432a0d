package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRoutesByType(t *testing.T) {
	d := NewInMemoryDispatcher()
	var typed, all []EventType

	d.Subscribe(EventSessionLoggedIn, func(_ context.Context, e Event) error {
		typed = append(typed, e.Type)
		return nil
	})
	d.SubscribeAll(func(_ context.Context, e Event) error {
		all = append(all, e.Type)
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), NewEvent(EventSessionLoggedIn, "u1", nil)))
	require.NoError(t, d.Publish(context.Background(), NewEvent(EventSessionLoggedOut, "", nil)))

	assert.Equal(t, []EventType{EventSessionLoggedIn}, typed)
	assert.Equal(t, []EventType{EventSessionLoggedIn, EventSessionLoggedOut}, all)
}

func TestDispatcherRunsAllHandlersAndJoinsErrors(t *testing.T) {
	d := NewInMemoryDispatcher()
	boom := errors.New("boom")
	ran := 0

	d.Subscribe(EventSessionFailed, func(context.Context, Event) error { ran++; return boom })
	d.Subscribe(EventSessionFailed, func(context.Context, Event) error { ran++; return nil })

	err := d.Publish(context.Background(), NewEvent(EventSessionFailed, "", nil))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, ran)
}

func TestNewEventStampsIdentity(t *testing.T) {
	a := NewEvent(EventSessionRestored, "u1", nil)
	b := NewEvent(EventSessionRestored, "u1", nil)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Timestamp.IsZero())
}
