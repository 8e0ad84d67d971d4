// Package engine defines the narrow capabilities the node consumes from the channel engine: channel and payment
// operations, peer connections, the gossip graph and the node identity.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/lightningnetwork/lnd/zpay32"
)

// Errors returned
var (
	ErrUnknownChannel = errors.New("channel not found")
	ErrUnknownFunding = errors.New("pending funding not found")
)

// ChannelView is a read-only projection of a channel.
type ChannelView struct {
	ChannelID      lnwire.ChannelID
	FundingTxID    string
	PeerPubkey     route.Vertex
	ShortChannelID *lnwire.ShortChannelID // nil until the funding transaction confirms
	Confirmed      bool
	LocalBalance   lnwire.MilliSatoshi
	Capacity       btcutil.Amount
	OutboundMsat   lnwire.MilliSatoshi
	InboundMsat    lnwire.MilliSatoshi
	Usable         bool
	Public         bool
}

// Invoice is an invoice issued by the engine.
type Invoice struct {
	Encoded    string
	Hash       lntypes.Hash
	Secret     [32]byte
	AmountMsat lnwire.MilliSatoshi
}

// ChannelEngine drives channels and payments. Implementations are safe for concurrent use.
type ChannelEngine interface {
	ListChannels(ctx context.Context) ([]ChannelView, error)
	// OpenChannel returns once the open is initiated, funding is requested later through a FundingReady event.
	OpenChannel(ctx context.Context, peer route.Vertex, amt btcutil.Amount, announce bool) error
	CloseChannel(ctx context.Context, id lnwire.ChannelID) error
	ForceCloseChannel(ctx context.Context, id lnwire.ChannelID) error
	ClaimFunds(ctx context.Context, preimage lntypes.Preimage) error
	CreateInvoice(ctx context.Context, amt lnwire.MilliSatoshi) (Invoice, error)
	// PayInvoice returns once the payment is dispatched; failures are a *PaymentError.
	PayInvoice(ctx context.Context, inv *zpay32.Invoice, encoded string) error
	FundingGenerated(ctx context.Context, tempID [32]byte, tx *wire.MsgTx) error
	CancelFunding(ctx context.Context, tempID [32]byte) error
	ProcessPendingForwards(ctx context.Context) error
}

// PeerEngine manages peer connections.
type PeerEngine interface {
	ConnectPeer(ctx context.Context, addr *lnwire.NetAddress) error
	ListPeers(ctx context.Context) ([]route.Vertex, error)
}

// Graph reads the gossip graph.
type Graph interface {
	// NodeAlias returns the alias announced by a node, false when the node is unknown.
	NodeAlias(ctx context.Context, node route.Vertex) (string, bool)
}

// Identity signs with the node identity key.
type Identity interface {
	NodeID() route.Vertex
	SignMessage(msg string) (string, error)
}

// PaymentErrorKind classifies why a payment could not be dispatched.
type PaymentErrorKind uint8

const (
	InvoiceInvalid PaymentErrorKind = iota
	RouteNotFound
	SendFailure
)

func (k PaymentErrorKind) String() string {
	switch k {
	case InvoiceInvalid:
		return "invalid invoice"
	case RouteNotFound:
		return "no route found"
	}

	return "sending failed"
}

// PaymentError is returned by PayInvoice.
type PaymentError struct {
	Kind PaymentErrorKind
	Err  error
}

func (e *PaymentError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}

	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}
