package events

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cowors/booking-engine/pkg/models"
)

func TestBus_PublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var first, second []Event
	bus.Subscribe(nil, func(e Event) { first = append(first, e) })
	bus.Subscribe(nil, func(e Event) { second = append(second, e) })
	require.Equal(t, 2, bus.SubscriberCount())

	event := Event{Type: EventConfigUpdated, ConfigID: uuid.New(), Version: 2}
	bus.Publish(event)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, event.ConfigID, first[0].ConfigID)
}

func TestBus_FilterLimitsDelivery(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var rateEvents []Event
	bus.Subscribe(func(e Event) bool {
		return e.ConfigType == models.ConfigTypeCommissionRate
	}, func(e Event) { rateEvents = append(rateEvents, e) })

	bus.Publish(Event{Type: EventConfigUpdated, ConfigType: models.ConfigTypeCommissionRate})
	bus.Publish(Event{Type: EventConfigUpdated, ConfigType: models.ConfigTypeCommissionSettings})

	require.Len(t, rateEvents, 1)
	assert.Equal(t, models.ConfigTypeCommissionRate, rateEvents[0].ConfigType)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var got []Event
	unsubscribe := bus.Subscribe(nil, func(e Event) { got = append(got, e) })

	bus.Publish(Event{Type: EventConfigCreated})
	unsubscribe()
	bus.Publish(Event{Type: EventConfigUpdated})

	assert.Len(t, got, 1)
	assert.Equal(t, 0, bus.SubscriberCount())

	// A second call is a no-op.
	unsubscribe()
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	bus := NewBus(zap.NewNop())

	bus.Subscribe(nil, func(Event) { panic("bad subscriber") })
	var got []Event
	bus.Subscribe(nil, func(e Event) { got = append(got, e) })

	require.NotPanics(t, func() {
		bus.Publish(Event{Type: EventConfigUpdated})
	})
	assert.Len(t, got, 1)
}
