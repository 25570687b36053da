// Package mock provides an in-memory transport.Transport for tests.
package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/punchamoorthee/transferval/internal/transport"
)

// Transport records every emitted message and lets tests inject inbound ones.
type Transport struct {
	bus *transport.Bus

	mu      sync.Mutex
	emitted []transport.Message
	emitErr error
}

func New() *Transport {
	return &Transport{bus: transport.NewBus()}
}

// FailEmits makes every following Emit return err; nil restores success.
func (t *Transport) FailEmits(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitErr = err
}

func (t *Transport) Emit(ctx context.Context, event string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.emitErr != nil {
		return t.emitErr
	}
	msg, err := transport.NewMessage(event, payload)
	if err != nil {
		return err
	}
	t.emitted = append(t.emitted, msg)
	return nil
}

func (t *Transport) Subscribe(event string, h transport.Handler) transport.Subscription {
	return t.bus.Subscribe(event, h)
}

// Deliver simulates an inbound event; it panics on unencodable payloads.
func (t *Transport) Deliver(event string, payload any) {
	msg, err := transport.NewMessage(event, payload)
	if err != nil {
		panic(err)
	}
	t.bus.Publish(msg)
}

// Emitted returns a copy of every message sent so far.
func (t *Transport) Emitted() []transport.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.Message, len(t.emitted))
	copy(out, t.emitted)
	return out
}

// EmittedEvents returns the messages sent under event.
func (t *Transport) EmittedEvents(event string) []transport.Message {
	var out []transport.Message
	for _, m := range t.Emitted() {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

// Last decodes the most recent payload emitted under event into v.
func (t *Transport) Last(event string, v any) bool {
	msgs := t.EmittedEvents(event)
	if len(msgs) == 0 {
		return false
	}
	return json.Unmarshal(msgs[len(msgs)-1].Data, v) == nil
}

func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitted = nil
}

// Subscriptions returns the number of live handlers.
func (t *Transport) Subscriptions() int {
	return t.bus.SubscriptionCount()
}

var _ transport.Transport = (*Transport)(nil)
