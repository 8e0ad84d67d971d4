package lnd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"google.golang.org/grpc/status"

	"github.com/tarancss/lnnode/lib/engine"
	"github.com/tarancss/lnnode/lib/events"
)

// ErrUnknownPreimage is returned by ClaimFunds for payments not invoiced by this client.
var ErrUnknownPreimage = errors.New("no invoice for preimage")

// CreateInvoice adds a hold invoice for amt. The preimage is generated and kept here until ClaimFunds. It is saved
// to the preimage store before the invoice exists, so a payment accepted after a restart can still be claimed.
func (c *Client) CreateInvoice(ctx context.Context, amt lnwire.MilliSatoshi) (engine.Invoice, error) {
	raw, err := randomBytes32()
	if err != nil {
		return engine.Invoice{}, err
	}

	preimage := lntypes.Preimage(raw)
	hash := preimage.Hash()

	if c.keep != nil {
		if err = c.keep.SavePreimage(preimage.String()); err != nil {
			return engine.Invoice{}, fmt.Errorf("cannot save preimage: %w", err)
		}
	}

	resp, err := c.invoices.AddHoldInvoice(ctx, &invoicesrpc.AddHoldInvoiceRequest{
		Hash:       hash[:],
		ValueMsat:  int64(amt),
		Expiry:     InvoiceExpiry,
		CltvExpiry: CltvExpiry,
	})
	if err != nil {
		return engine.Invoice{}, fmt.Errorf("failed to add invoice: %w", err)
	}

	secret, err := c.decodeSecret(resp.PaymentRequest)
	if err != nil {
		return engine.Invoice{}, fmt.Errorf("invalid invoice returned: %w", err)
	}

	c.mu.Lock()
	c.preimages[hash] = preimage
	c.mu.Unlock()

	return engine.Invoice{Encoded: resp.PaymentRequest, Hash: hash, Secret: secret, AmountMsat: amt}, nil
}

// ClaimFunds settles the hold invoice paid with preimage.
func (c *Client) ClaimFunds(ctx context.Context, preimage lntypes.Preimage) error {
	hash := preimage.Hash()

	c.mu.Lock()
	_, ok := c.preimages[hash]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPreimage, hash)
	}

	if _, err := c.invoices.SettleInvoice(ctx, &invoicesrpc.SettleInvoiceMsg{Preimage: preimage[:]}); err != nil {
		return fmt.Errorf("failed to settle invoice %s: %w", hash, err)
	}

	c.mu.Lock()
	delete(c.preimages, hash)
	c.mu.Unlock()

	return nil
}

// classify maps the reasons lnd gives for a payment to the kinds of PaymentError.
func classify(reason lnrpc.PaymentFailureReason) engine.PaymentErrorKind {
	switch reason {
	case lnrpc.PaymentFailureReason_FAILURE_REASON_NO_ROUTE,
		lnrpc.PaymentFailureReason_FAILURE_REASON_INSUFFICIENT_BALANCE:
		return engine.RouteNotFound
	case lnrpc.PaymentFailureReason_FAILURE_REASON_INCORRECT_PAYMENT_DETAILS:
		return engine.InvoiceInvalid
	}

	return engine.SendFailure
}

// classifyErr maps errors returned when lnd refuses to start a payment.
func classifyErr(err error) engine.PaymentErrorKind {
	msg := status.Convert(err).Message()

	switch {
	case strings.Contains(msg, "invoice expired"), strings.Contains(msg, "already paid"),
		strings.Contains(msg, "invalid"):
		return engine.InvoiceInvalid
	case strings.Contains(msg, "no route"):
		return engine.RouteNotFound
	}

	return engine.SendFailure
}

// PayInvoice sends a payment for inv. It returns once lnd reports the payment in flight; the outcome is passed to the
// sink as PaymentSent or PaymentFailed.
func (c *Client) PayInvoice(ctx context.Context, inv *zpay32.Invoice, encoded string) error {
	stream, err := c.router.SendPaymentV2(c.ctx, &routerrpc.SendPaymentRequest{
		PaymentRequest: encoded,
		TimeoutSeconds: PaymentTimeout,
		FeeLimitMsat:   int64(*inv.MilliSat) / 100, //nolint:gomnd
	})
	if err != nil {
		return &engine.PaymentError{Kind: classifyErr(err), Err: err}
	}

	hash := lntypes.Hash(*inv.PaymentHash)

	update, err := stream.Recv()
	if err != nil {
		return &engine.PaymentError{Kind: classifyErr(err), Err: err}
	}

	if update.Status == lnrpc.Payment_FAILED {
		return &engine.PaymentError{Kind: classify(update.FailureReason), Err: errors.New(update.FailureReason.String())}
	}

	if c.emitPayment(hash, update) {
		return nil
	}

	go func() {
		for {
			update, err := stream.Recv()
			if err != nil {
				log.Printf("[lnd] Payment %s stream ended: %v", hash, err)

				return
			}

			if c.emitPayment(hash, update) {
				return
			}
		}
	}()

	return nil
}

// emitPayment passes the outcome of a payment to the sink, false while the payment is still in flight.
func (c *Client) emitPayment(hash lntypes.Hash, p *lnrpc.Payment) bool {
	switch p.Status {
	case lnrpc.Payment_SUCCEEDED:
		preimage, err := lntypes.MakePreimageFromStr(p.PaymentPreimage)
		if err != nil {
			log.Printf("[lnd] Payment %s succeeded with invalid preimage: %v", hash, err)

			return true
		}

		fee := uint64(p.FeeMsat)
		c.sink(events.PaymentSent{PaymentPreimage: events.Bytes32(preimage), PaymentHash: events.Bytes32(hash), FeePaidMsat: &fee})

		return true
	case lnrpc.Payment_FAILED:
		c.sink(events.PaymentFailed{PaymentHash: events.Bytes32(hash)})

		return true
	}

	return false
}
