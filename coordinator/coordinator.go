// Package coordinator implements the event coordinator of the node. The coordinator reacts to the protocol events
// raised by the channel engine, either in process or consumed from the message broker, and drives the resulting
// on-chain actions and payment ledger updates. Events are handled independently on a bounded pool of workers.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tarancss/lnnode/lib/events"
	"github.com/tarancss/lnnode/lib/ledger"
	"github.com/tarancss/lnnode/lib/metrics"
	"github.com/tarancss/lnnode/lib/msg"
	"github.com/tarancss/lnnode/lib/node"
)

// DefaultWorkers is the size of the worker pool when none is given.
const DefaultWorkers = 8

// Errors returned
var (
	ErrIncompleteSignature = errors.New("wallet could not sign every input of the funding transaction")
	ErrBadFundingScript    = errors.New("funding output script does not pay to one address")
	ErrNoBroker            = errors.New("no message broker")
)

// Coordinator implements events.Handler over the node capabilities.
type Coordinator struct {
	st   *node.State
	pool *errgroup.Group
	ctx  context.Context
}

// New returns a coordinator running at most workers events at a time. Events submitted in process are handled with
// ctx.
func New(ctx context.Context, st *node.State, workers int) *Coordinator {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	pool := new(errgroup.Group)
	pool.SetLimit(workers)

	return &Coordinator{st: st, pool: pool, ctx: ctx}
}

// Handle dispatches ev to its workflow and records the result.
func (c *Coordinator) Handle(ctx context.Context, ev events.Event) error {
	err := ev.Dispatch(ctx, c)

	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError

		log.Printf("[coordinator] %s failed: %v", ev.Kind(), err)
	}

	metrics.Events.WithLabelValues(string(ev.Kind()), result).Inc()

	return err
}

// Submit handles ev on the worker pool. It blocks while every worker is busy. Submit is the event sink given to an
// in process channel engine.
func (c *Coordinator) Submit(ev events.Event) {
	c.pool.Go(func() error {
		_ = c.Handle(c.ctx, ev)

		return nil
	})
}

// Wait blocks until every submitted event has been handled.
func (c *Coordinator) Wait() {
	_ = c.pool.Wait()
}

// ManageEvents consumes events from the message broker until ctx is done or the broker closes its channels. Each
// delivery is acknowledged once handled, whatever the outcome, so a failing event is not redelivered forever.
func (c *Coordinator) ManageEvents(ctx context.Context, prefetch int) error {
	if c.st.Broker == nil {
		return ErrNoBroker
	}

	eveCh, errCh, err := c.st.Broker.GetEvents(prefetch)
	if err != nil {
		return fmt.Errorf("coordinator: cannot get events: %w", err)
	}

	// launch error channel reader
	go func() {
		for e := range errCh {
			log.Printf("[coordinator] Received error from broker %+v", e)
		}
	}()

	log.Printf("[coordinator] Start listening to event channel")

	for {
		select {
		case <-ctx.Done():
			log.Printf("[coordinator] Stop listening to event channel")
			c.Wait()

			return nil
		case d, ok := <-eveCh:
			if !ok {
				log.Printf("[coordinator] Event channel closed")
				c.Wait()

				return nil
			}

			c.pool.Go(func() error {
				c.handleDelivery(ctx, d)

				return nil
			})
		}
	}
}

func (c *Coordinator) handleDelivery(ctx context.Context, d msg.Delivery) {
	_ = c.Handle(ctx, d.Event)

	if d.Ack == nil {
		return
	}

	if err := d.Ack(); err != nil {
		log.Printf("[coordinator] Cannot ack event %s: %v", d.ID, err)
	}
}

// ForwardDelay returns a duration drawn uniformly from [floor, 5*floor).
func ForwardDelay(floor time.Duration) time.Duration {
	if floor <= 0 {
		return 0
	}

	return floor + time.Duration(rand.Int64N(int64(4*floor))) //nolint:gomnd
}

// PaymentNotifier returns a ledger hook publishing every payment change to mb.
func PaymentNotifier(mb msg.MsgBroker) func(ledger.Entry) {
	return func(e ledger.Entry) {
		if err := mb.SendPayment(ledger.ToStore(e)); err != nil {
			log.Printf("[coordinator] Cannot publish %s payment %s: %v", e.Direction, e.Hash, err)
		}
	}
}
