// Package event implements the in-process publish/subscribe registry that
// decouples consumers from the authentication internals.
package event

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
)

// AllEvents subscribes a handler to every event type. Wildcard handlers run
// after the type-specific ones.
const AllEvents domain.EventType = "*"

// Handler consumes a published event.
type Handler func(domain.Event)

// SubscriptionID identifies a registered handler for later removal.
type SubscriptionID string

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Stats is the bus counter snapshot.
type Stats struct {
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Subscribers int   `json:"subscribers"`
}

// Bus is a typed observer registry. Handlers for the same event type are
// invoked synchronously in registration order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[domain.EventType][]subscription
	index  map[SubscriptionID]domain.EventType
	logger *zap.Logger

	published int64
	delivered int64
}

// NewBus constructs an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[domain.EventType][]subscription),
		index:  make(map[SubscriptionID]domain.EventType),
		logger: logger,
	}
}

// Subscribe registers a handler for the event type and returns its
// subscription identifier.
func (b *Bus) Subscribe(eventType domain.EventType, handler Handler) SubscriptionID {
	if handler == nil {
		return ""
	}

	id := SubscriptionID(uuid.NewString())

	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})
	b.index[id] = eventType
	b.mu.Unlock()

	return id
}

// Unsubscribe removes the handler registered under the identifier. Unknown
// identifiers are ignored.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	eventType, ok := b.index[id]
	if !ok {
		return
	}
	delete(b.index, id)

	subs := b.subs[eventType]
	for i := range subs {
		if subs[i].id == id {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[eventType]) == 0 {
		delete(b.subs, eventType)
	}
}

// Publish delivers the event to type-specific handlers in registration order,
// then to wildcard handlers. Missing envelope fields are filled in.
func (b *Bus) Publish(evt domain.Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]subscription, 0, len(b.subs[evt.Type])+len(b.subs[AllEvents]))
	handlers = append(handlers, b.subs[evt.Type]...)
	handlers = append(handlers, b.subs[AllEvents]...)
	b.mu.RUnlock()

	atomic.AddInt64(&b.published, 1)

	for _, sub := range handlers {
		b.deliver(sub, evt)
	}
}

// deliver isolates each handler: a panicking subscriber must not take down
// the publisher or the remaining handlers.
func (b *Bus) deliver(sub subscription, evt domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event_type", string(evt.Type)),
				zap.String("event_id", evt.ID),
				zap.Any("panic", r),
			)
		}
	}()

	sub.handler(evt)
	atomic.AddInt64(&b.delivered, 1)
}

// Stats returns the bus counter snapshot.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subscribers := len(b.index)
	b.mu.RUnlock()

	return Stats{
		Published:   atomic.LoadInt64(&b.published),
		Delivered:   atomic.LoadInt64(&b.delivered),
		Subscribers: subscribers,
	}
}
