package event

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/autoref/internal/logging"
)

// Handler is a function that handles an event.
type Handler func(Event)

// wildcard is the subscription key for handlers that receive every event.
const wildcard = "*"

type subscription struct {
	id      string
	handler Handler
}

// Bus is a synchronous pub-sub event bus. Handlers run on the publisher's
// goroutine, so they must not block.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription // eventType -> subscriptions
	nextID atomic.Uint64
	logger *logging.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report panicking handlers.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates a new event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[string][]subscription),
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for one event type and returns an ID for
// Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})
	return id
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(wildcard, handler)
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subs {
		for i, sub := range subs {
			if sub.id != id {
				continue
			}
			remaining := make([]subscription, 0, len(subs)-1)
			remaining = append(remaining, subs[:i]...)
			b.subs[eventType] = append(remaining, subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish dispatches e to handlers subscribed to its type, then to wildcard
// handlers, each group in registration order. A panicking handler is logged
// and skipped.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	specific := append([]subscription(nil), b.subs[e.EventType()]...)
	all := append([]subscription(nil), b.subs[wildcard]...)
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, e)
	}
	for _, sub := range all {
		b.safeCall(sub.handler, e)
	}
}

func (b *Bus) safeCall(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", e.EventType(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	handler(e)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subs {
		count += len(subs)
	}
	return count
}
