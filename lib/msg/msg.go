// Package msg defines the interface for different message brokers.
//
// The node consumes protocol events from the broker and publishes every change of a payment record back to it.
package msg

import (
	"github.com/tarancss/lnnode/lib/events"
	"github.com/tarancss/lnnode/lib/store"
)

// Delivery is an event consumed from the broker. Ack must be called once the event has been handled, an event
// never acknowledged is redelivered when the consumer reconnects.
type Delivery struct {
	Event events.Event
	ID    string
	Ack   func() error
}

type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// methods for event sources (ie. the channel engine bridge)
	SendEvent(ev events.Event) error

	// methods for the node
	GetEvents(prefetch int) (<-chan Delivery, <-chan error, error)
	SendPayment(p store.Payment) error
}
