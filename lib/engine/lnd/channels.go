package lnd

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"

	"github.com/tarancss/lnnode/lib/engine"
	"github.com/tarancss/lnnode/lib/events"
)

// parseChannelPoint parses txid:index.
func parseChannelPoint(s string) (*wire.OutPoint, error) {
	txid, idx, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("invalid channel point %q", s)
	}

	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("invalid channel point %q: %w", s, err)
	}

	n, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid channel point %q: %w", s, err)
	}

	return wire.NewOutPoint(hash, uint32(n)), nil
}

func spendable(balance int64, c *lnrpc.ChannelConstraints) lnwire.MilliSatoshi {
	if c != nil {
		balance -= int64(c.ChanReserveSat)
	}

	if balance < 0 {
		return 0
	}

	return lnwire.NewMSatFromSatoshis(btcutil.Amount(balance))
}

// ListChannels returns the open channels and the channels waiting for their funding transaction to confirm.
func (c *Client) ListChannels(ctx context.Context) ([]engine.ChannelView, error) {
	open, err := c.ln.ListChannels(ctx, &lnrpc.ListChannelsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	pending, err := c.ln.PendingChannels(ctx, &lnrpc.PendingChannelsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending channels: %w", err)
	}

	views := make([]engine.ChannelView, 0, len(open.Channels)+len(pending.PendingOpenChannels))

	for _, ch := range open.Channels {
		op, err := parseChannelPoint(ch.ChannelPoint)
		if err != nil {
			log.Printf("[lnd] Ignoring channel: %v", err)

			continue
		}

		peer, err := route.NewVertexFromStr(ch.RemotePubkey)
		if err != nil {
			log.Printf("[lnd] Ignoring channel %s: %v", ch.ChannelPoint, err)

			continue
		}

		scid := lnwire.NewShortChanIDFromInt(ch.ChanId)
		views = append(views, engine.ChannelView{
			ChannelID:      lnwire.NewChanIDFromOutPoint(op),
			FundingTxID:    op.Hash.String(),
			PeerPubkey:     peer,
			ShortChannelID: &scid,
			Confirmed:      true,
			LocalBalance:   lnwire.NewMSatFromSatoshis(btcutil.Amount(ch.LocalBalance)),
			Capacity:       btcutil.Amount(ch.Capacity),
			OutboundMsat:   spendable(ch.LocalBalance, ch.LocalConstraints),
			InboundMsat:    spendable(ch.RemoteBalance, ch.RemoteConstraints),
			Usable:         ch.Active,
			Public:         !ch.Private,
		})
	}

	for _, p := range pending.PendingOpenChannels {
		ch := p.Channel
		if ch == nil {
			continue
		}

		op, err := parseChannelPoint(ch.ChannelPoint)
		if err != nil {
			log.Printf("[lnd] Ignoring pending channel: %v", err)

			continue
		}

		peer, err := route.NewVertexFromStr(ch.RemoteNodePub)
		if err != nil {
			log.Printf("[lnd] Ignoring pending channel %s: %v", ch.ChannelPoint, err)

			continue
		}

		views = append(views, engine.ChannelView{
			ChannelID:    lnwire.NewChanIDFromOutPoint(op),
			FundingTxID:  op.Hash.String(),
			PeerPubkey:   peer,
			LocalBalance: lnwire.NewMSatFromSatoshis(btcutil.Amount(ch.LocalBalance)),
			Capacity:     btcutil.Amount(ch.Capacity),
			Public:       !ch.Private,
		})
	}

	return views, nil
}

// channelPoint finds the funding outpoint of an open channel.
func (c *Client) channelPoint(ctx context.Context, id lnwire.ChannelID) (*lnrpc.ChannelPoint, error) {
	resp, err := c.ln.ListChannels(ctx, &lnrpc.ListChannelsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	for _, ch := range resp.Channels {
		op, err := parseChannelPoint(ch.ChannelPoint)
		if err != nil || lnwire.NewChanIDFromOutPoint(op) != id {
			continue
		}

		return &lnrpc.ChannelPoint{
			FundingTxid: &lnrpc.ChannelPoint_FundingTxidStr{FundingTxidStr: op.Hash.String()},
			OutputIndex: op.Index,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", engine.ErrUnknownChannel, id)
}

// OpenChannel opens a channel funded through a PSBT shim. It returns once lnd asks for the funding transaction, which
// is passed to the sink as a FundingReady event.
func (c *Client) OpenChannel(ctx context.Context, peer route.Vertex, amt btcutil.Amount, announce bool) error {
	tempID, err := randomBytes32()
	if err != nil {
		return err
	}

	stream, err := c.ln.OpenChannel(c.ctx, &lnrpc.OpenChannelRequest{
		NodePubkey:         peer[:],
		LocalFundingAmount: int64(amt),
		Private:            !announce,
		FundingShim: &lnrpc.FundingShim{
			Shim: &lnrpc.FundingShim_PsbtShim{PsbtShim: &lnrpc.PsbtShim{PendingChanId: tempID[:]}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	update, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	fund := update.GetPsbtFund()
	if fund == nil {
		return fmt.Errorf("unexpected open channel update %v", update)
	}

	addr, err := btcutil.DecodeAddress(fund.FundingAddress, c.params)
	if err != nil {
		return fmt.Errorf("invalid funding address %s: %w", fund.FundingAddress, err)
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return fmt.Errorf("invalid funding address %s: %w", fund.FundingAddress, err)
	}

	go c.followOpen(stream, tempID)

	c.sink(events.FundingReady{
		TempChannelID:      tempID,
		CounterpartyNodeID: peer[:],
		ValueSat:           uint64(fund.FundingAmount),
		OutputScript:       script,
	})

	return nil
}

func (c *Client) followOpen(stream lnrpc.Lightning_OpenChannelClient, tempID [32]byte) {
	for {
		update, err := stream.Recv()
		if err != nil {
			log.Printf("[lnd] Channel %x open ended: %v", tempID, err)

			return
		}

		switch u := update.Update.(type) {
		case *lnrpc.OpenStatusUpdate_ChanPending:
			log.Printf("[lnd] Channel %x pending, funding tx %x:%d", tempID, u.ChanPending.Txid, u.ChanPending.OutputIndex)
		case *lnrpc.OpenStatusUpdate_ChanOpen:
			log.Printf("[lnd] Channel %x open", tempID)

			return
		}
	}
}

// FundingGenerated hands the signed funding transaction to lnd, which verifies it pays the funding output and
// broadcasts it.
func (c *Client) FundingGenerated(ctx context.Context, tempID [32]byte, tx *wire.MsgTx) error {
	unsigned := tx.Copy()
	for _, in := range unsigned.TxIn {
		in.SignatureScript = nil
		in.Witness = nil
	}

	packet, err := psbt.NewFromUnsignedTx(unsigned)
	if err != nil {
		return fmt.Errorf("cannot build funding psbt: %w", err)
	}

	var funded bytes.Buffer
	if err = packet.Serialize(&funded); err != nil {
		return fmt.Errorf("cannot serialize funding psbt: %w", err)
	}

	_, err = c.ln.FundingStateStep(ctx, &lnrpc.FundingTransitionMsg{
		Trigger: &lnrpc.FundingTransitionMsg_PsbtVerify{PsbtVerify: &lnrpc.FundingPsbtVerify{
			FundedPsbt:    funded.Bytes(),
			PendingChanId: tempID[:],
		}},
	})
	if err != nil {
		return fmt.Errorf("funding verify rejected: %w", err)
	}

	var final bytes.Buffer
	if err = tx.Serialize(&final); err != nil {
		return fmt.Errorf("cannot serialize funding tx: %w", err)
	}

	_, err = c.ln.FundingStateStep(ctx, &lnrpc.FundingTransitionMsg{
		Trigger: &lnrpc.FundingTransitionMsg_PsbtFinalize{PsbtFinalize: &lnrpc.FundingPsbtFinalize{
			FinalRawTx:    final.Bytes(),
			PendingChanId: tempID[:],
		}},
	})
	if err != nil {
		return fmt.Errorf("funding finalize rejected: %w", err)
	}

	return nil
}

// CancelFunding cancels the funding shim of a channel still waiting for its funding transaction.
func (c *Client) CancelFunding(ctx context.Context, tempID [32]byte) error {
	_, err := c.ln.FundingStateStep(ctx, &lnrpc.FundingTransitionMsg{
		Trigger: &lnrpc.FundingTransitionMsg_ShimCancel{ShimCancel: &lnrpc.FundingShimCancel{
			PendingChanId: tempID[:],
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to cancel funding: %w", err)
	}

	return nil
}

func (c *Client) closeChannel(ctx context.Context, id lnwire.ChannelID, force bool) error {
	point, err := c.channelPoint(ctx, id)
	if err != nil {
		return err
	}

	stream, err := c.ln.CloseChannel(c.ctx, &lnrpc.CloseChannelRequest{ChannelPoint: point, Force: force})
	if err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	// the first update confirms the close was initiated
	if _, err = stream.Recv(); err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}

	go func() {
		for {
			if _, err := stream.Recv(); err != nil {
				return
			}
		}
	}()

	return nil
}

// CloseChannel starts a cooperative close.
func (c *Client) CloseChannel(ctx context.Context, id lnwire.ChannelID) error {
	return c.closeChannel(ctx, id, false)
}

// ForceCloseChannel broadcasts the latest commitment transaction.
func (c *Client) ForceCloseChannel(ctx context.Context, id lnwire.ChannelID) error {
	return c.closeChannel(ctx, id, true)
}
