package lnd

import (
	"context"
	"fmt"
	"log"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"golang.org/x/sync/errgroup"

	"github.com/tarancss/lnnode/lib/events"
)

// Run reads the invoice, channel and HTLC streams of lnd and passes the events they raise to the sink. It blocks until
// ctx is cancelled or a stream fails.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.watchInvoices(ctx) })
	g.Go(func() error { return c.watchChannels(ctx) })
	g.Go(func() error { return c.watchForwards(ctx) })

	return g.Wait()
}

func (c *Client) watchInvoices(ctx context.Context) error {
	stream, err := c.ln.SubscribeInvoices(ctx, &lnrpc.InvoiceSubscription{})
	if err != nil {
		return fmt.Errorf("cannot subscribe to invoices: %w", err)
	}

	for {
		inv, err := stream.Recv()
		if err != nil {
			return fmt.Errorf("invoice stream: %w", err)
		}

		if ev, ok := c.invoiceEvent(inv); ok {
			c.sink(ev)
		}
	}
}

// invoiceEvent returns a PaymentReceived for invoices of this client that are paid and waiting to be claimed.
func (c *Client) invoiceEvent(inv *lnrpc.Invoice) (events.PaymentReceived, bool) {
	if inv.State != lnrpc.Invoice_ACCEPTED {
		return events.PaymentReceived{}, false
	}

	hash, err := lntypes.MakeHash(inv.RHash)
	if err != nil {
		log.Printf("[lnd] Ignoring invoice with invalid hash %x: %v", inv.RHash, err)

		return events.PaymentReceived{}, false
	}

	c.mu.Lock()
	preimage, ok := c.preimages[hash]
	c.mu.Unlock()

	if !ok {
		log.Printf("[lnd] Ignoring accepted invoice %s not created by this node", hash)

		return events.PaymentReceived{}, false
	}

	pre := events.Bytes32(preimage)
	ev := events.PaymentReceived{
		PaymentHash: events.Bytes32(hash),
		Purpose:     events.Purpose{Kind: events.PurposeInvoice, Preimage: &pre},
		AmountMsat:  uint64(inv.AmtPaidMsat),
	}

	if len(inv.PaymentAddr) == len(pre) {
		var secret events.Bytes32

		copy(secret[:], inv.PaymentAddr)
		ev.Purpose.Secret = &secret
	}

	return ev, true
}

func (c *Client) watchChannels(ctx context.Context) error {
	stream, err := c.ln.SubscribeChannelEvents(ctx, &lnrpc.ChannelEventSubscription{})
	if err != nil {
		return fmt.Errorf("cannot subscribe to channel events: %w", err)
	}

	for {
		update, err := stream.Recv()
		if err != nil {
			return fmt.Errorf("channel stream: %w", err)
		}

		closed := update.GetClosedChannel()
		if closed == nil {
			continue
		}

		op, err := parseChannelPoint(closed.ChannelPoint)
		if err != nil {
			log.Printf("[lnd] Ignoring closed channel: %v", err)

			continue
		}

		c.sink(events.ChannelClosed{
			ChannelID: events.Bytes32(lnwire.NewChanIDFromOutPoint(op)),
			Reason:    closed.CloseType.String(),
		})
	}
}

type htlcKey struct {
	channel, htlc uint64
}

func (c *Client) watchForwards(ctx context.Context) error {
	stream, err := c.router.SubscribeHtlcEvents(ctx, &routerrpc.SubscribeHtlcEventsRequest{})
	if err != nil {
		return fmt.Errorf("cannot subscribe to htlc events: %w", err)
	}

	fees := make(map[htlcKey]uint64)

	for {
		ev, err := stream.Recv()
		if err != nil {
			return fmt.Errorf("htlc stream: %w", err)
		}

		if out, ok := forwardEvent(fees, ev); ok {
			c.sink(out)
		}
	}
}

// forwardEvent tracks the fee of forwarded HTLCs in fees and returns a PaymentForwarded once one settles.
func forwardEvent(fees map[htlcKey]uint64, ev *routerrpc.HtlcEvent) (events.PaymentForwarded, bool) {
	if ev.EventType != routerrpc.HtlcEvent_FORWARD {
		return events.PaymentForwarded{}, false
	}

	key := htlcKey{ev.IncomingChannelId, ev.IncomingHtlcId}

	switch e := ev.Event.(type) {
	case *routerrpc.HtlcEvent_ForwardEvent:
		if info := e.ForwardEvent.GetInfo(); info != nil && info.IncomingAmtMsat >= info.OutgoingAmtMsat {
			fees[key] = info.IncomingAmtMsat - info.OutgoingAmtMsat
		}
	case *routerrpc.HtlcEvent_ForwardFailEvent, *routerrpc.HtlcEvent_LinkFailEvent:
		delete(fees, key)
	case *routerrpc.HtlcEvent_SettleEvent:
		fee, ok := fees[key]
		delete(fees, key)

		out := events.PaymentForwarded{}
		if ok {
			out.FeeEarnedMsat = &fee
		}

		return out, true
	}

	return events.PaymentForwarded{}, false
}
