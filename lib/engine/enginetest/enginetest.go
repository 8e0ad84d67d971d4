// Package enginetest provides in-memory channel engines connected through a simulated network, for tests.
//
// A payment made by one node reaches the node that issued the invoice as a PaymentReceived event, and the payer gets
// PaymentSent once the payee claims it. Events are delivered to each node's Sink.
package enginetest

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/lightningnetwork/lnd/zpay32"

	"github.com/tarancss/lnnode/lib/engine"
	"github.com/tarancss/lnnode/lib/events"
)

// Network routes payments between its nodes.
type Network struct {
	Params *chaincfg.Params

	mu    sync.Mutex
	nodes map[route.Vertex]*Node
}

// NewNetwork returns an empty network.
func NewNetwork(params *chaincfg.Params) *Network {
	return &Network{Params: params, nodes: make(map[route.Vertex]*Node)}
}

func (n *Network) node(v route.Vertex) (*Node, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	node, ok := n.nodes[v]

	return node, ok
}

type invoice struct {
	preimage lntypes.Preimage
	secret   [32]byte
	amt      lnwire.MilliSatoshi
	payer    *Node
	settled  bool
}

// Funding is a FundingGenerated call.
type Funding struct {
	TempID [32]byte
	Tx     *wire.MsgTx
}

// Node implements engine.ChannelEngine, engine.PeerEngine and engine.Graph.
type Node struct {
	Alias string
	// Sink receives the events emitted by the node. Events are dropped while nil.
	Sink func(events.Event)

	net  *Network
	priv *btcec.PrivateKey

	mu       sync.Mutex
	calls    map[string]int
	errs     map[string]error
	channels []engine.ChannelView
	pending  map[[32]byte]btcutil.Amount // temporary channel id -> value
	peers    map[route.Vertex]bool
	invoices map[lntypes.Hash]*invoice
	funded   []Funding
	canceled [][32]byte
	fwd      chan struct{}
}

// NewNode adds a node to the network.
func (n *Network) NewNode(alias string) *Node {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		panic(err)
	}

	node := &Node{
		Alias:    alias,
		net:      n,
		priv:     priv,
		calls:    make(map[string]int),
		errs:     make(map[string]error),
		pending:  make(map[[32]byte]btcutil.Amount),
		peers:    make(map[route.Vertex]bool),
		invoices: make(map[lntypes.Hash]*invoice),
		fwd:      make(chan struct{}, 16), //nolint:gomnd
	}

	n.mu.Lock()
	n.nodes[node.NodeID()] = node
	n.mu.Unlock()

	return node
}

// NodeID returns the node public key.
func (n *Node) NodeID() route.Vertex {
	return route.NewVertex(n.priv.PubKey())
}

// Fail makes every following call to method return err.
func (n *Node) Fail(method string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.errs[method] = err
}

// Calls returns how many times method was called.
func (n *Node) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.calls[method]
}

// call counts a call to method and returns its injected error.
func (n *Node) call(method string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls[method]++

	return n.errs[method]
}

func (n *Node) emit(ev events.Event) {
	if sink := n.Sink; sink != nil {
		sink(ev)
	}
}

// AddChannel adds an open channel with peer and returns its id.
func (n *Node) AddChannel(peer route.Vertex, capacity btcutil.Amount, local lnwire.MilliSatoshi, usable bool) lnwire.ChannelID {
	var id lnwire.ChannelID
	_, _ = rand.Read(id[:])

	n.mu.Lock()
	defer n.mu.Unlock()

	scid := lnwire.NewShortChanIDFromInt(uint64(len(n.channels) + 1))

	n.channels = append(n.channels, engine.ChannelView{
		ChannelID:      id,
		FundingTxID:    fmt.Sprintf("%x", id[:]),
		PeerPubkey:     peer,
		ShortChannelID: &scid,
		Confirmed:      true,
		LocalBalance:   local,
		Capacity:       capacity,
		OutboundMsat:   local,
		InboundMsat:    lnwire.NewMSatFromSatoshis(capacity) - local,
		Usable:         usable,
		Public:         true,
	})

	return id
}

// Funded returns the FundingGenerated calls.
func (n *Node) Funded() []Funding {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]Funding(nil), n.funded...)
}

// Canceled returns the temporary channel ids passed to CancelFunding.
func (n *Node) Canceled() [][32]byte {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([][32]byte(nil), n.canceled...)
}

// Forwarded is signalled on every ProcessPendingForwards call.
func (n *Node) Forwarded() <-chan struct{} {
	return n.fwd
}

func (n *Node) ListChannels(ctx context.Context) ([]engine.ChannelView, error) {
	if err := n.call("ListChannels"); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]engine.ChannelView{}, n.channels...), nil
}

// OpenChannel emits FundingReady for a P2WSH funding output, as channel funding outputs are.
func (n *Node) OpenChannel(ctx context.Context, peer route.Vertex, amt btcutil.Amount, announce bool) error {
	if err := n.call("OpenChannel"); err != nil {
		return err
	}

	var tempID [32]byte
	_, _ = rand.Read(tempID[:])

	script, err := txscript.NewScriptBuilder().AddOp(txscript.OP_0).AddData(tempID[:]).Script()
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.pending[tempID] = amt
	n.mu.Unlock()

	n.emit(events.FundingReady{
		TempChannelID:      tempID,
		CounterpartyNodeID: peer[:],
		ValueSat:           uint64(amt),
		OutputScript:       script,
	})

	return nil
}

func (n *Node) closeChannel(method string, id lnwire.ChannelID) error {
	if err := n.call(method); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for i, c := range n.channels {
		if c.ChannelID == id {
			n.channels = append(n.channels[:i], n.channels[i+1:]...)

			return nil
		}
	}

	return engine.ErrUnknownChannel
}

func (n *Node) CloseChannel(ctx context.Context, id lnwire.ChannelID) error {
	return n.closeChannel("CloseChannel", id)
}

func (n *Node) ForceCloseChannel(ctx context.Context, id lnwire.ChannelID) error {
	return n.closeChannel("ForceCloseChannel", id)
}

// ClaimFunds settles a received payment and notifies its payer.
func (n *Node) ClaimFunds(ctx context.Context, preimage lntypes.Preimage) error {
	if err := n.call("ClaimFunds"); err != nil {
		return err
	}

	hash := preimage.Hash()

	n.mu.Lock()
	inv, ok := n.invoices[hash]

	if !ok || inv.settled || inv.preimage != preimage {
		n.mu.Unlock()

		return fmt.Errorf("no claimable payment for %s", hash)
	}

	inv.settled = true
	payer := inv.payer
	n.mu.Unlock()

	if payer != nil {
		go payer.emit(events.PaymentSent{PaymentPreimage: events.Bytes32(preimage), PaymentHash: events.Bytes32(hash)})
	}

	return nil
}

// CreateInvoice issues a BOLT11 invoice signed by the node key.
func (n *Node) CreateInvoice(ctx context.Context, amt lnwire.MilliSatoshi) (engine.Invoice, error) {
	if err := n.call("CreateInvoice"); err != nil {
		return engine.Invoice{}, err
	}

	inv := &invoice{amt: amt}
	_, _ = rand.Read(inv.preimage[:])
	_, _ = rand.Read(inv.secret[:])
	hash := inv.preimage.Hash()

	features := lnwire.NewFeatureVector(
		lnwire.NewRawFeatureVector(lnwire.TLVOnionPayloadOptional, lnwire.PaymentAddrOptional), lnwire.Features)

	bolt11, err := zpay32.NewInvoice(n.net.Params, hash, time.Now(),
		zpay32.Amount(amt), zpay32.Description(n.Alias), zpay32.PaymentAddr(inv.secret), zpay32.Features(features))
	if err != nil {
		return engine.Invoice{}, err
	}

	encoded, err := bolt11.Encode(zpay32.MessageSigner{SignCompact: func(h []byte) ([]byte, error) {
		return ecdsa.SignCompact(n.priv, h, true)
	}})
	if err != nil {
		return engine.Invoice{}, err
	}

	n.mu.Lock()
	n.invoices[hash] = inv
	n.mu.Unlock()

	return engine.Invoice{Encoded: encoded, Hash: hash, Secret: inv.secret, AmountMsat: amt}, nil
}

// PayInvoice delivers the payment to the invoice destination asynchronously.
func (n *Node) PayInvoice(ctx context.Context, inv *zpay32.Invoice, encoded string) error {
	if err := n.call("PayInvoice"); err != nil {
		return err
	}

	if inv.Destination == nil {
		return &engine.PaymentError{Kind: engine.InvoiceInvalid}
	}

	payee, ok := n.net.node(route.NewVertex(inv.Destination))
	if !ok || payee == n {
		return &engine.PaymentError{Kind: engine.RouteNotFound}
	}

	hash := lntypes.Hash(*inv.PaymentHash)

	payee.mu.Lock()
	in, ok := payee.invoices[hash]

	if ok {
		in.payer = n
	}
	payee.mu.Unlock()

	if !ok {
		return &engine.PaymentError{Kind: engine.InvoiceInvalid, Err: fmt.Errorf("unknown payment hash %s", hash)}
	}

	preimage, secret := events.Bytes32(in.preimage), events.Bytes32(in.secret)

	go payee.emit(events.PaymentReceived{
		PaymentHash: events.Bytes32(hash),
		Purpose:     events.Purpose{Kind: events.PurposeInvoice, Preimage: &preimage, Secret: &secret},
		AmountMsat:  uint64(*inv.MilliSat),
	})

	return nil
}

func (n *Node) FundingGenerated(ctx context.Context, tempID [32]byte, tx *wire.MsgTx) error {
	if err := n.call("FundingGenerated"); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.pending[tempID]; !ok {
		return engine.ErrUnknownFunding
	}

	delete(n.pending, tempID)
	n.funded = append(n.funded, Funding{TempID: tempID, Tx: tx})

	return nil
}

func (n *Node) CancelFunding(ctx context.Context, tempID [32]byte) error {
	if err := n.call("CancelFunding"); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.pending, tempID)
	n.canceled = append(n.canceled, tempID)

	return nil
}

func (n *Node) ProcessPendingForwards(ctx context.Context) error {
	err := n.call("ProcessPendingForwards")
	select {
	case n.fwd <- struct{}{}:
	default:
	}

	return err
}

// ConnectPeer marks the peer connected. It does not check the peer is on the network.
func (n *Node) ConnectPeer(ctx context.Context, addr *lnwire.NetAddress) error {
	if err := n.call("ConnectPeer"); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.peers[route.NewVertex(addr.IdentityKey)] = true

	return nil
}

func (n *Node) ListPeers(ctx context.Context) ([]route.Vertex, error) {
	if err := n.call("ListPeers"); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	peers := make([]route.Vertex, 0, len(n.peers))
	for p := range n.peers {
		peers = append(peers, p)
	}

	return peers, nil
}

// NodeAlias returns the alias of a node on the network.
func (n *Node) NodeAlias(ctx context.Context, v route.Vertex) (string, bool) {
	node, ok := n.net.node(v)
	if !ok {
		return "", false
	}

	return node.Alias, true
}
