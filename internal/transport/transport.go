// Package transport carries named events between the hub and its cashier
// and admin sessions.
//
// Frames are JSON envelopes {"event": name, "data": payload} sent as
// WebSocket text messages. Client is the reconnecting client side; Bus is the
// in-process dispatcher Client uses to fan inbound events out to subscribers.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Local pseudo-events published by Client, never sent on the wire.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrClosed       = errors.New("transport: closed")
)

// Message is one named event with its raw payload.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("transport: %s: empty payload", m.Event)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("transport: %s: %w", m.Event, err)
	}
	return nil
}

// NewMessage encodes payload under event.
func NewMessage(event string, payload any) (Message, error) {
	if payload == nil {
		return Message{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("transport: encode %s: %w", event, err)
	}
	return Message{Event: event, Data: data}, nil
}

// Handler receives messages for the event it subscribed to.
type Handler func(Message)

// Subscription is the token returned by Subscribe.
type Subscription interface {
	Unsubscribe()
}

// Transport is what the cashier and admin coordinators need from a connection.
type Transport interface {
	Emit(ctx context.Context, event string, payload any) error
	Subscribe(event string, h Handler) Subscription
}

// SubscriptionSet collects tokens so an owner can drop all of them at once.
type SubscriptionSet []Subscription

func (s *SubscriptionSet) Add(sub Subscription) {
	*s = append(*s, sub)
}

func (s *SubscriptionSet) Unsubscribe() {
	for _, sub := range *s {
		sub.Unsubscribe()
	}
	*s = nil
}
