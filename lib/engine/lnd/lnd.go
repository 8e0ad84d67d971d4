// Package lnd implements the engine capabilities on an lnd node through its gRPC API.
//
// Channels are funded by the node wallet through PSBT funding shims, so lnd asks for funding with a FundingReady event
// and waits for FundingGenerated. Invoices are hold invoices whose preimage is kept here and in a PreimageStore, so
// received payments are only settled by ClaimFunds, also after a restart.
package lnd

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/macaroons"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/lightningnetwork/lnd/zpay32"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"gopkg.in/macaroon.v2"

	"github.com/tarancss/lnnode/lib/config"
	"github.com/tarancss/lnnode/lib/engine"
	"github.com/tarancss/lnnode/lib/events"
)

// Invoice and payment defaults.
const (
	InvoiceExpiry  = 3600 // seconds
	CltvExpiry     = 40
	PaymentTimeout = 60 // seconds
	ConnectTimeout = 30 // seconds
)

// PreimageStore keeps hold invoice preimages, hex encoded.
type PreimageStore interface {
	SavePreimage(preimage string) error
	GetPreimages() ([]string, error)
}

// Client implements engine.ChannelEngine, engine.PeerEngine, engine.Graph and engine.Identity using lnrpc.
type Client struct {
	ln       lnrpc.LightningClient
	router   routerrpc.RouterClient
	invoices invoicesrpc.InvoicesClient
	conn     *grpc.ClientConn
	params   *chaincfg.Params
	sink     func(events.Event)
	keep     PreimageStore
	self     route.Vertex

	// ctx outlives requests: streams of open channels, closes and payments are read on it
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	preimages map[lntypes.Hash]lntypes.Preimage
}

var (
	_ engine.ChannelEngine = (*Client)(nil)
	_ engine.PeerEngine    = (*Client)(nil)
	_ engine.Graph         = (*Client)(nil)
	_ engine.Identity      = (*Client)(nil)
)

// New connects to the lnd node of the config. The preimages of invoices created before are loaded from keep, which
// may be nil. Events raised by lnd are passed to sink once Run is called.
func New(cfg config.EngineConfig, params *chaincfg.Params, keep PreimageStore, sink func(events.Event),
) (*Client, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCert, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS cert: %w", err)
	}

	macBytes, err := os.ReadFile(cfg.Macaroon)
	if err != nil {
		return nil, fmt.Errorf("failed to read macaroon: %w", err)
	}

	mac := &macaroon.Macaroon{}
	if err = mac.UnmarshalBinary(macBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal macaroon: %w", err)
	}

	macCreds, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return nil, fmt.Errorf("failed to create macaroon credential: %w", err)
	}

	conn, err := grpc.Dial(cfg.Host, grpc.WithTransportCredentials(creds), grpc.WithPerRPCCredentials(macCreds))
	if err != nil {
		return nil, fmt.Errorf("failed to dial lnd: %w", err)
	}

	c := newClient(lnrpc.NewLightningClient(conn), routerrpc.NewRouterClient(conn),
		invoicesrpc.NewInvoicesClient(conn), params, sink)
	c.conn = conn
	c.keep = keep

	if err = c.loadPreimages(); err != nil {
		c.Close()

		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second) //nolint:gomnd
	defer cancel()

	info, err := c.ln.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		c.Close()

		return nil, fmt.Errorf("cannot get lnd info: %w", err)
	}

	if c.self, err = route.NewVertexFromStr(info.IdentityPubkey); err != nil {
		c.Close()

		return nil, fmt.Errorf("invalid lnd identity %s: %w", info.IdentityPubkey, err)
	}

	log.Printf("[lnd] Connected to %s (%s) at %s", info.Alias, info.IdentityPubkey, cfg.Host)

	return c, nil
}

// loadPreimages fills the preimage map from the preimage store.
func (c *Client) loadPreimages() error {
	if c.keep == nil {
		return nil
	}

	saved, err := c.keep.GetPreimages()
	if err != nil {
		return fmt.Errorf("cannot load preimages: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range saved {
		preimage, err := lntypes.MakePreimageFromStr(s)
		if err != nil {
			log.Printf("[lnd] Ignoring invalid preimage %q: %v", s, err)

			continue
		}

		c.preimages[preimage.Hash()] = preimage
	}

	log.Printf("[lnd] Loaded %d invoice preimages", len(saved))

	return nil
}

func newClient(ln lnrpc.LightningClient, router routerrpc.RouterClient, inv invoicesrpc.InvoicesClient,
	params *chaincfg.Params, sink func(events.Event),
) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	if sink == nil {
		sink = func(events.Event) {}
	}

	return &Client{
		ln:        ln,
		router:    router,
		invoices:  inv,
		params:    params,
		sink:      sink,
		ctx:       ctx,
		cancel:    cancel,
		preimages: make(map[lntypes.Hash]lntypes.Preimage),
	}
}

// Close cancels every stream and closes the underlying connection.
func (c *Client) Close() error {
	c.cancel()

	if c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// NodeID returns the identity key of the lnd node.
func (c *Client) NodeID() route.Vertex {
	return c.self
}

// SignMessage signs msg with the lnd identity key.
func (c *Client) SignMessage(msg string) (string, error) {
	resp, err := c.ln.SignMessage(c.ctx, &lnrpc.SignMessageRequest{Msg: []byte(msg)})
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}

	return resp.Signature, nil
}

// ConnectPeer connects to a peer, not permanently.
func (c *Client) ConnectPeer(ctx context.Context, addr *lnwire.NetAddress) error {
	_, err := c.ln.ConnectPeer(ctx, &lnrpc.ConnectPeerRequest{
		Addr: &lnrpc.LightningAddress{
			Pubkey: route.NewVertex(addr.IdentityKey).String(),
			Host:   addr.Address.String(),
		},
		Timeout: ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect peer: %w", err)
	}

	return nil
}

// ListPeers returns the pubkeys of the connected peers.
func (c *Client) ListPeers(ctx context.Context) ([]route.Vertex, error) {
	resp, err := c.ln.ListPeers(ctx, &lnrpc.ListPeersRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}

	peers := make([]route.Vertex, 0, len(resp.Peers))

	for _, p := range resp.Peers {
		v, err := route.NewVertexFromStr(p.PubKey)
		if err != nil {
			log.Printf("[lnd] Ignoring peer with invalid pubkey %s: %v", p.PubKey, err)

			continue
		}

		peers = append(peers, v)
	}

	return peers, nil
}

// NodeAlias looks node up in the graph of lnd.
func (c *Client) NodeAlias(ctx context.Context, node route.Vertex) (string, bool) {
	info, err := c.ln.GetNodeInfo(ctx, &lnrpc.NodeInfoRequest{PubKey: node.String()})
	if err != nil || info.Node == nil {
		return "", false
	}

	return info.Node.Alias, true
}

// ProcessPendingForwards is a no-op: lnd forwards HTLCs itself.
func (c *Client) ProcessPendingForwards(ctx context.Context) error {
	return nil
}

func randomBytes32() (b [32]byte, err error) {
	_, err = rand.Read(b[:])

	return
}

// decodeSecret returns the payment address of an encoded invoice.
func (c *Client) decodeSecret(encoded string) ([32]byte, error) {
	inv, err := zpay32.Decode(encoded, c.params)
	if err != nil {
		return [32]byte{}, err
	}

	if inv.PaymentAddr == nil {
		return [32]byte{}, fmt.Errorf("invoice has no payment address")
	}

	return *inv.PaymentAddr, nil
}
