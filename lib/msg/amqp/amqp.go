// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/tarancss/lnnode/lib/events"
	"github.com/tarancss/lnnode/lib/msg"
	"github.com/tarancss/lnnode/lib/store"
)

// Exchanges, queue and consumer names.
const (
	EventsExchange   = "le"
	PaymentsExchange = "pu"
	EventsQueue      = "lnnode-events"
	Consumer         = "lnnode"
	IDHeader         = "x-event-id"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex // guards ch for publishers
}

// New instantiates a new amqp broker.
func New(uri string) (*Amqp, error) {
	r := Amqp{}

	var err error

	if r.conn, err = amqp.Dial(uri); err != nil {
		return nil, fmt.Errorf("cannot connect to broker: %w", err)
	}

	log.Printf("Connected to %s", uri)

	return &r, nil
}

// Setup obtains an amqp channel and declares the message broker exchanges:
//
// - le ("lightning events"): the channel engine bridge publishes protocol events to this exchange
//
// - pu ("payment updates"): the node publishes every change of a payment record to this exchange
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	// declare exchanges
	if err = channel.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	return channel.ExchangeDeclare(PaymentsExchange, "topic", true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.mu.Lock()
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel:%v", err)
		}

		r.ch = nil

		log.Printf("amqp.Channel closed!")
	}
	r.mu.Unlock()

	return r.conn.Close()
}

func (r *Amqp) publish(exchange, key string, headers amqp.Table, body []byte) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return
		}
	}

	m := amqp.Publishing{
		Headers:      headers,
		Body:         body,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
	}

	return r.ch.Publish(exchange, key, false, false, m)
}

// SendEvent publishes a protocol event to the "le" exchange with routing key event.<kind>.
func (r *Amqp) SendEvent(ev events.Event) error {
	jsonDoc, err := events.Marshal(ev)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	if err = r.publish(EventsExchange, "event."+string(ev.Kind()), amqp.Table{IDHeader: id}, jsonDoc); err != nil {
		log.Printf("[amqp] Error sending %s event %s to message broker %v", ev.Kind(), id, err)
	}

	return err
}

// SendPayment publishes a payment update to the "pu" exchange with routing key payment.<direction>.<hash>.
func (r *Amqp) SendPayment(p store.Payment) error {
	jsonDoc, err := json.Marshal(p)
	if err != nil {
		return err
	}

	if err = r.publish(PaymentsExchange, "payment."+p.Direction+"."+p.Hash, nil, jsonDoc); err != nil {
		log.Printf("[amqp] Error sending payment %s to message broker %v", p.Key(), err)
	}

	return err
}

// GetEvents consumes events from the "le" exchange pushing them to the returned channel. At most prefetch events are
// delivered and not yet acknowledged at any time. Messages that cannot be decoded are reported on the error channel
// and rejected without requeue.
func (r *Amqp) GetEvents(prefetch int) (<-chan msg.Delivery, <-chan error, error) {
	// consumers get their own channel so publishing never waits on deliveries
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, nil, err
	}

	if err = ch.Qos(prefetch, 0, false); err != nil {
		return nil, nil, err
	}
	// declare queue
	if _, err = ch.QueueDeclare(EventsQueue, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}
	// bind queue to exchange
	if err = ch.QueueBind(EventsQueue, "event.*", EventsExchange, false, nil); err != nil {
		return nil, nil, err
	}
	// create channel for receiving events
	msgs, errCons := ch.Consume(EventsQueue, Consumer, false, false, false, false, nil)
	if errCons != nil {
		return nil, nil, errCons
	}
	// define channels to return
	eves := make(chan msg.Delivery)
	errs := make(chan error)
	// start routine to consume messages from broker
	go func() {
		defer close(eves)
		defer ch.Close()

		for m := range msgs {
			ev, err := events.Unmarshal(m.Body)
			if err != nil {
				_ = m.Reject(false)
				select {
				case errs <- err:
				default: // nobody listening
					log.Printf("[amqp] Dropped undecodable event: %v", err)
				}

				continue
			}

			id, _ := m.Headers[IDHeader].(string)
			eves <- msg.Delivery{Event: ev, ID: id, Ack: func() error { return m.Ack(false) }}
		}
	}()

	return eves, errs, nil
}
