package realtime

import (
	"fmt"
	"sync"

	"github.com/Nikolay4ru/kolesomobileapp-sub002/pkg/logger"
	"go.uber.org/zap"
)

// Generic event names. Order-scoped composites are built by OrderEvent.
const (
	EventLocationUpdate = "location_update"
	EventStatusUpdate   = "status_update"
	EventOrderCancelled = "order_cancelled"
	EventError          = "error"
)

// OrderEvent builds the per-order composite key, e.g. "order_42_location"
func OrderEvent(orderID int64, kind string) string {
	return fmt.Sprintf("order_%d_%s", orderID, kind)
}

// Handler receives the typed frame that triggered the event
type Handler func(frame ServerFrame)

// Subscription deregisters a handler when closed
type Subscription struct {
	bus   *Bus
	event string
	id    int
}

// Off removes the handler; safe to call more than once
func (s *Subscription) Off() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.off(s.event, s.id)
	s.bus = nil
}

// Bus is the local publish/subscribe fan-out for inbound frames. Handlers
// for one event run in registration order; a panicking handler is isolated
// so it cannot break delivery to the others.
type Bus struct {
	mu     sync.Mutex
	nextID int
	// handlers preserves registration order per event
	handlers map[string][]busEntry
	log      *logger.Logger
}

type busEntry struct {
	id int
	fn Handler
}

// NewBus creates an empty event bus
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]busEntry),
		log:      log,
	}
}

// On registers a handler for event and returns its subscription handle
func (b *Bus) On(event string, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[event] = append(b.handlers[event], busEntry{id: id, fn: fn})
	return &Subscription{bus: b, event: event, id: id}
}

func (b *Bus) off(event string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.handlers[event]
	for i, e := range entries {
		if e.id == id {
			b.handlers[event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(b.handlers[event]) == 0 {
		delete(b.handlers, event)
	}
}

// Emit invokes every handler registered for event, in order
func (b *Bus) Emit(event string, frame ServerFrame) {
	b.mu.Lock()
	entries := make([]busEntry, len(b.handlers[event]))
	copy(entries, b.handlers[event])
	b.mu.Unlock()

	for _, e := range entries {
		b.invoke(event, e, frame)
	}
}

func (b *Bus) invoke(event string, e busEntry, frame ServerFrame) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("event", event),
				zap.Any("panic", r))
		}
	}()
	e.fn(frame)
}

// Clear removes every handler (used by channel shutdown)
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]busEntry)
}

// Len reports the number of handlers registered for event (for tests)
func (b *Bus) Len(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event])
}
