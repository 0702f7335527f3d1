// Package events carries configuration change notifications between the
// versioned store and in-process listeners such as the realtime gateway.
// Delivery is synchronous and at-most-once: the bus is a UI-refresh
// signal, not a durable queue. Readers that need current state must still
// ask the store for it.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cowors/booking-engine/pkg/models"
)

// EventType enumerates configuration change notifications.
type EventType string

const (
	EventConfigCreated  EventType = "config_created"
	EventConfigUpdated  EventType = "config_updated"
	EventConfigDeleted  EventType = "config_deleted"
	EventConfigRollback EventType = "config_rollback"
)

// Event is one configuration change notification.
type Event struct {
	Type       EventType                     `json:"type"`
	ConfigID   uuid.UUID                     `json:"config_id"`
	ConfigType models.ConfigType             `json:"config_type"`
	Changes    map[string]models.FieldChange `json:"changes,omitempty"`
	Version    int                           `json:"version"`
	Timestamp  time.Time                     `json:"timestamp"`
	UserID     uuid.UUID                     `json:"user_id"`
}

// Filter decides whether a subscriber receives an event. A nil filter
// receives everything.
type Filter func(Event) bool

// Handler consumes an event. Handlers run on the publisher's goroutine
// and must not block; anything slow belongs behind a channel.
type Handler func(Event)

type subscriber struct {
	id      int
	filter  Filter
	handler Handler
}

// Bus is an in-process configuration event bus. Writers never talk to the
// broadcast layer directly; they publish here and subscribers fan out.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscriber
	logger *zap.Logger
}

// NewBus creates an event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger.Named("config-event-bus")}
}

// Subscribe registers a handler for events matching filter and returns a
// function that removes the subscription.
func (b *Bus) Subscribe(filter Filter, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, filter: filter, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to every matching subscriber. A panicking
// handler is isolated so one bad subscriber cannot fail the write path or
// starve the others.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.filter != nil && !s.filter(event) {
			continue
		}
		b.dispatch(s, event)
	}

	b.logger.Debug("published config event",
		zap.String("type", string(event.Type)),
		zap.String("config_id", event.ConfigID.String()),
		zap.Int("version", event.Version))
}

func (b *Bus) dispatch(s subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("config event handler panicked",
				zap.Int("subscriber_id", s.id),
				zap.String("event_type", string(event.Type)),
				zap.Any("panic", r))
		}
	}()
	s.handler(event)
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
