package events_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/events"
)

func TestBus_EmitInSubscriptionOrder(t *testing.T) {
	bus := events.NewBus(events.NewNopLogger())
	var order []string

	bus.Subscribe(events.EventUnlock, func(events.Event) { order = append(order, "first") })
	bus.Subscribe(events.EventUnlock, func(events.Event) { order = append(order, "second") })
	bus.Subscribe(events.EventLock, func(events.Event) { order = append(order, "lock") })

	bus.Emit(events.EventUnlock, "client")

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBus_EventCarriesClient(t *testing.T) {
	bus := events.NewBus(nil)
	var got events.Event

	bus.Subscribe(events.EventLogin, func(e events.Event) { got = e })
	bus.Emit(events.EventLogin, "client-1")

	assert.Equal(t, events.EventLogin, got.Name)
	assert.Equal(t, "client-1", got.Client)
	assert.False(t, got.At.IsZero())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := events.NewBus(nil)
	calls := 0

	sub := bus.Subscribe(events.EventSync, func(events.Event) { calls++ })
	bus.Emit(events.EventSync, nil)
	sub.Unsubscribe()
	sub.Unsubscribe()
	bus.Emit(events.EventSync, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.Count(events.EventSync))
}

func TestBus_UnsubscribeDuringDispatch(t *testing.T) {
	bus := events.NewBus(nil)
	var calls []string

	var first *events.Subscription
	first = bus.Subscribe(events.EventLock, func(events.Event) {
		calls = append(calls, "first")
		first.Unsubscribe()
	})
	bus.Subscribe(events.EventLock, func(events.Event) { calls = append(calls, "second") })

	bus.Emit(events.EventLock, nil)
	bus.Emit(events.EventLock, nil)

	assert.Equal(t, []string{"first", "second", "second"}, calls)
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := events.NewBus(nil)
	delivered := false

	bus.Subscribe(events.EventInit, func(events.Event) { panic("boom") })
	bus.Subscribe(events.EventInit, func(events.Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Emit(events.EventInit, nil) })
	assert.True(t, delivered)
}

func TestBus_SubscribeChan(t *testing.T) {
	bus := events.NewBus(nil)
	ch, cancel := bus.SubscribeChan(4, events.EventLock, events.EventUnlock)

	bus.Emit(events.EventUnlock, nil)
	bus.Emit(events.EventSync, nil)
	bus.Emit(events.EventLock, nil)

	require.Len(t, ch, 2)
	assert.Equal(t, events.EventUnlock, (<-ch).Name)
	assert.Equal(t, events.EventLock, (<-ch).Name)

	cancel()
	cancel()
	bus.Emit(events.EventLock, nil)

	_, open := <-ch
	assert.False(t, open)
}

func TestLockState_String(t *testing.T) {
	assert.Equal(t, "locked", events.Locked.String())
	assert.Equal(t, "unlocked", events.Unlocked.String())

	data, err := json.Marshal(map[string]events.LockState{"state": events.Unlocked})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"unlocked"}`, string(data))
}
