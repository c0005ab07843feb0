package notify

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/orders"
)

// replayCapacity bounds the per-order replay buffer; oldest events are
// discarded first.
const replayCapacity = 10

// Listener receives status events for one order. Listeners must not
// block: transports buffer per client and drop on overflow.
type Listener func(event orders.StatusEvent)

// Bus is an in-process pub/sub keyed by order id with a bounded replay
// buffer per order. Publish never fails and never propagates a listener
// panic; one faulty observer cannot affect delivery to the others.
type Bus struct {
	mu     sync.Mutex
	topics map[uuid.UUID]*topic
	logger *zap.Logger
}

type topic struct {
	mu       sync.Mutex
	dead     bool
	nextID   int
	handlers map[int]Listener
	buffer   []orders.StatusEvent
}

// NewBus creates a notification bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		topics: make(map[uuid.UUID]*topic),
		logger: logger.Named("notify"),
	}
}

// acquire returns the order's topic with its lock held, creating it if
// needed. Retries when it raced with a concurrent topic removal.
func (b *Bus) acquire(orderID uuid.UUID, create bool) *topic {
	for {
		b.mu.Lock()
		t, ok := b.topics[orderID]
		if !ok {
			if !create {
				b.mu.Unlock()
				return nil
			}
			t = &topic{handlers: make(map[int]Listener)}
			b.topics[orderID] = t
		}
		b.mu.Unlock()

		t.mu.Lock()
		if t.dead {
			t.mu.Unlock()
			continue
		}
		return t
	}
}

// release unlocks the topic, removing it from the map when nothing
// references it anymore
func (b *Bus) release(orderID uuid.UUID, t *topic) {
	if len(t.handlers) == 0 && len(t.buffer) == 0 {
		b.mu.Lock()
		if b.topics[orderID] == t {
			t.dead = true
			delete(b.topics, orderID)
		}
		b.mu.Unlock()
	}
	t.mu.Unlock()
}

// Subscribe registers a live listener for an order. The returned function
// removes exactly this registration.
func (b *Bus) Subscribe(orderID uuid.UUID, fn Listener) func() {
	t := b.acquire(orderID, true)
	id := t.nextID
	t.nextID++
	t.handlers[id] = fn
	t.mu.Unlock()

	return func() {
		if t := b.acquire(orderID, false); t != nil {
			delete(t.handlers, id)
			b.release(orderID, t)
		}
	}
}

// SubscribeWithReplay delivers the buffered tail to fn and registers it as
// a live listener in one atomic step with respect to Publish, so a
// concurrent publish can neither be dropped nor delivered twice.
func (b *Bus) SubscribeWithReplay(orderID uuid.UUID, fn Listener) func() {
	t := b.acquire(orderID, true)
	for _, ev := range t.buffer {
		b.invoke(orderID, fn, ev)
	}
	id := t.nextID
	t.nextID++
	t.handlers[id] = fn
	t.mu.Unlock()

	return func() {
		if t := b.acquire(orderID, false); t != nil {
			delete(t.handlers, id)
			b.release(orderID, t)
		}
	}
}

// Publish records the event in the replay buffer and delivers it to every
// live listener. Publishing with zero subscribers is a no-op; listener
// panics are swallowed per listener.
func (b *Bus) Publish(orderID uuid.UUID, event orders.StatusEvent) {
	t := b.acquire(orderID, true)
	defer t.mu.Unlock()

	t.buffer = append(t.buffer, event)
	if len(t.buffer) > replayCapacity {
		t.buffer = t.buffer[len(t.buffer)-replayCapacity:]
	}

	for _, fn := range t.handlers {
		b.invoke(orderID, fn, event)
	}
}

// Replay returns a copy of the buffered events in emission order
func (b *Bus) Replay(orderID uuid.UUID) []orders.StatusEvent {
	t := b.acquire(orderID, false)
	if t == nil {
		return nil
	}
	defer t.mu.Unlock()
	out := make([]orders.StatusEvent, len(t.buffer))
	copy(out, t.buffer)
	return out
}

// Clear empties an order's replay buffer. The worker calls this once the
// terminal event has been delivered, bounding memory to active orders.
func (b *Bus) Clear(orderID uuid.UUID) {
	t := b.acquire(orderID, false)
	if t == nil {
		return
	}
	t.buffer = nil
	b.release(orderID, t)
}

func (b *Bus) invoke(orderID uuid.UUID, fn Listener, event orders.StatusEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("listener panicked during publish",
				zap.String("order_id", orderID.String()),
				zap.Any("panic", r))
		}
	}()
	fn(event)
}
