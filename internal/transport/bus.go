package transport

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/punchamoorthee/transferval/internal/logging"
)

type subscription struct {
	id      uint64
	event   string
	handler Handler
}

// Bus is a synchronous in-process dispatcher keyed by event name.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID atomic.Uint64
	logger *logging.Logger
}

func NewBus() *Bus {
	return &Bus{
		subs:   make(map[string][]subscription),
		logger: logging.L().Named("bus"),
	}
}

// Subscribe registers h for event. Handlers run on the publisher's goroutine
// in registration order.
func (b *Bus) Subscribe(event string, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscription{id: b.nextID.Add(1), event: event, handler: h}
	b.subs[event] = append(b.subs[event], sub)
	return &busToken{bus: b, id: sub.id, event: event}
}

func (b *Bus) unsubscribe(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[event]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[event]) == 0 {
		delete(b.subs, event)
	}
}

// Publish delivers msg to every handler subscribed to msg.Event. A panicking
// handler is logged and does not stop delivery to the rest.
func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs[msg.Event]))
	copy(subs, b.subs[msg.Event])
	b.mu.RUnlock()

	for _, sub := range subs {
		b.safeCall(sub.handler, msg)
	}
}

func (b *Bus) safeCall(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event", msg.Event),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	h(msg)
}

// SubscriptionCount returns the number of live subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

type busToken struct {
	bus   *Bus
	id    uint64
	event string
	once  sync.Once
}

func (t *busToken) Unsubscribe() {
	t.once.Do(func() { t.bus.unsubscribe(t.event, t.id) })
}
