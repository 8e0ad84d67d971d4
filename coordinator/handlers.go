package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/tarancss/lnnode/lib/events"
	"github.com/tarancss/lnnode/lib/ledger"
	"github.com/tarancss/lnnode/lib/metrics"
)

// SweepConfTarget is the confirmation target, in blocks, of sweep transactions.
const SweepConfTarget = 6

// FundingReady funds the channel output from the on-chain wallet and hands the signed transaction to the engine.
func (c *Coordinator) FundingReady(ctx context.Context, ev events.FundingReady) error {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(ev.OutputScript, c.st.Params)
	if err != nil || len(addrs) != 1 {
		return fmt.Errorf("%w: %x", ErrBadFundingScript, []byte(ev.OutputScript))
	}

	tx, err := c.fundingTx(ctx, addrs[0], btcutil.Amount(ev.ValueSat))
	if err != nil {
		if errCancel := c.st.Channels.CancelFunding(ctx, ev.TempChannelID); errCancel != nil {
			log.Printf("[coordinator] Cannot cancel funding of channel %s: %v", ev.TempChannelID, errCancel)
		}

		return err
	}

	if err = c.st.Channels.FundingGenerated(ctx, ev.TempChannelID, tx); err != nil {
		// the channel went away, the funding tx was never broadcast so funds remain unspent
		log.Printf("[coordinator] Funding tx %s for channel %s rejected: %v", tx.TxHash(), ev.TempChannelID, err)

		return nil
	}

	log.Printf("[coordinator] Funding tx %s generated for channel %s", tx.TxHash(), ev.TempChannelID)

	return nil
}

func (c *Coordinator) fundingTx(ctx context.Context, addr btcutil.Address, amt btcutil.Amount) (*wire.MsgTx, error) {
	raw, err := c.st.Wallet.BuildRawTx(ctx, map[btcutil.Address]btcutil.Amount{addr: amt})
	if err != nil {
		return nil, fmt.Errorf("cannot build funding tx: %w", err)
	}

	funded, err := c.st.Wallet.FundRawTx(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("cannot fund funding tx: %w", err)
	}

	signed, complete, err := c.st.Wallet.SignRawTx(ctx, funded)
	if err != nil {
		return nil, fmt.Errorf("cannot sign funding tx: %w", err)
	}

	if !complete {
		return nil, ErrIncompleteSignature
	}

	return signed, nil
}

// PaymentReceived claims a payment to the node and records the outcome in the inbound table.
func (c *Coordinator) PaymentReceived(ctx context.Context, ev events.PaymentReceived) error {
	hash := lntypes.Hash(ev.PaymentHash)
	amt := ev.AmountMsat
	r := ledger.Record{Status: ledger.Failed, AmountMsat: &amt}

	if ev.Purpose.Secret != nil {
		secret := ledger.Secret(*ev.Purpose.Secret)
		r.Secret = &secret
	}

	switch {
	case ev.Purpose.Preimage == nil:
		log.Printf("[coordinator] Payment %s received without preimage, cannot claim", hash)
	default:
		preimage := lntypes.Preimage(*ev.Purpose.Preimage)
		if err := c.st.Channels.ClaimFunds(ctx, preimage); err != nil {
			log.Printf("[coordinator] Cannot claim payment %s: %v", hash, err)

			break
		}

		r.Status = ledger.Succeeded
		r.Preimage = &preimage
	}

	if err := c.st.Ledger.Resolve(ledger.Inbound, hash, r); err != nil {
		if errors.Is(err, ledger.ErrResolved) {
			log.Printf("[coordinator] Ignoring received payment: %v", err)

			return nil
		}

		return err
	}

	log.Printf("[coordinator] Payment %s of %d msat received: %s", hash, amt, r.Status)

	return nil
}

// PaymentSent settles an outbound payment.
func (c *Coordinator) PaymentSent(ctx context.Context, ev events.PaymentSent) error {
	hash := lntypes.Hash(ev.PaymentHash)

	if err := c.st.Ledger.Settle(hash, lntypes.Preimage(ev.PaymentPreimage), ledger.Outbound); err != nil {
		log.Printf("[coordinator] Ignoring sent payment: %v", err)

		return nil
	}

	if ev.FeePaidMsat != nil {
		log.Printf("[coordinator] Payment %s sent, fee %d msat", hash, *ev.FeePaidMsat)
	} else {
		log.Printf("[coordinator] Payment %s sent", hash)
	}

	return nil
}

// PaymentFailed fails an outbound payment.
func (c *Coordinator) PaymentFailed(ctx context.Context, ev events.PaymentFailed) error {
	hash := lntypes.Hash(ev.PaymentHash)

	if err := c.st.Ledger.Fail(hash, ledger.Outbound); err != nil {
		log.Printf("[coordinator] Ignoring failed payment: %v", err)

		return nil
	}

	log.Printf("[coordinator] Payment %s failed", hash)

	return nil
}

// PaymentForwarded logs a claimed forward and adds its fee to the fees earned.
func (c *Coordinator) PaymentForwarded(ctx context.Context, ev events.PaymentForwarded) error {
	from := "off-chain"
	if ev.ClaimFromOnchainTx {
		from = "on-chain"
	}

	if ev.FeeEarnedMsat == nil {
		log.Printf("[coordinator] Forwarded payment claimed %s, fee unknown", from)

		return nil
	}

	metrics.FeesEarned.Add(float64(*ev.FeeEarnedMsat))
	log.Printf("[coordinator] Forwarded payment claimed %s, earned %d msat", from, *ev.FeeEarnedMsat)

	return nil
}

// PendingHTLCsForwardable processes pending forwards after a random delay. The delay is not awaited.
func (c *Coordinator) PendingHTLCsForwardable(ctx context.Context, ev events.PendingHTLCsForwardable) error {
	delay := ForwardDelay(ev.TimeForwardable)

	go func() {
		time.Sleep(delay)

		if err := c.st.Channels.ProcessPendingForwards(context.WithoutCancel(ctx)); err != nil {
			log.Printf("[coordinator] Cannot process pending forwards: %v", err)
		}
	}()

	return nil
}

// SpendableOutputs sweeps every output of the event to a new wallet address in one transaction.
func (c *Coordinator) SpendableOutputs(ctx context.Context, ev events.SpendableOutputs) error {
	dest, err := c.st.Wallet.NewAddress(ctx)
	if err != nil {
		return fmt.Errorf("cannot get sweep address: %w", err)
	}

	feeRate, err := c.st.Wallet.EstimateFee(ctx, SweepConfTarget)
	if err != nil {
		return fmt.Errorf("cannot estimate sweep fee: %w", err)
	}

	tx, err := c.st.Sweeper.SpendOutputs(ev.Outputs, dest, feeRate)
	if err != nil {
		return fmt.Errorf("cannot sign sweep of %d outputs: %w", len(ev.Outputs), err)
	}

	txid, err := c.st.Wallet.Broadcast(ctx, tx)
	if err != nil {
		return fmt.Errorf("cannot broadcast sweep: %w", err)
	}

	log.Printf("[coordinator] Swept %d outputs to %s in tx %s", len(ev.Outputs), dest, txid)

	return nil
}

// ChannelClosed logs the close of a channel.
func (c *Coordinator) ChannelClosed(ctx context.Context, ev events.ChannelClosed) error {
	log.Printf("[coordinator] Channel %s closed: %s", ev.ChannelID, ev.Reason)

	return nil
}

// OpenChannelRequest is ignored: inbound channels are accepted by the engine.
func (c *Coordinator) OpenChannelRequest(ctx context.Context, ev events.OpenChannelRequest) error {
	log.Printf("[coordinator] Ignoring request to open channel %s of %d sat from %x", ev.TempChannelID,
		ev.FundingSat, []byte(ev.CounterpartyNodeID))

	return nil
}

// DiscardFunding logs that the funding transaction of a channel will never be broadcast.
func (c *Coordinator) DiscardFunding(ctx context.Context, ev events.DiscardFunding) error {
	log.Printf("[coordinator] Funding of channel %s discarded", ev.ChannelID)

	return nil
}
