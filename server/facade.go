package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"

	"github.com/tarancss/lnnode/lib/engine"
	"github.com/tarancss/lnnode/lib/ledger"
)

// ErrorKind classifies a failed request.
type ErrorKind uint8

const (
	// ClientInput is a malformed or missing field, or a peer that cannot be reached. Nothing was changed.
	ClientInput ErrorKind = iota
	// EngineRejection is the channel engine declining the command; its explanation is passed through.
	EngineRejection
	// Internal is a broken invariant of the node.
	Internal
)

// Status returns the HTTP status code of the kind.
func (k ErrorKind) Status() int {
	switch k {
	case ClientInput:
		return http.StatusBadRequest
	case EngineRejection:
		return http.StatusExpectationFailed
	}

	return http.StatusInternalServerError
}

// RequestError is returned by every facade operation that fails.
type RequestError struct {
	Kind ErrorKind
	Msg  string
}

func (e *RequestError) Error() string {
	return e.Msg
}

func clientErr(format string, a ...interface{}) error {
	return &RequestError{Kind: ClientInput, Msg: fmt.Sprintf(format, a...)}
}

func engineErr(format string, a ...interface{}) error {
	return &RequestError{Kind: EngineRejection, Msg: fmt.Sprintf(format, a...)}
}

func internalErr(format string, a ...interface{}) error {
	return &RequestError{Kind: Internal, Msg: fmt.Sprintf(format, a...)}
}

// Request holds the fields of every command. Amounts are base-10 strings.
type Request struct {
	Pubkey              string `json:"pubkey"`
	Host                string `json:"host"`
	Port                string `json:"port"`
	ChannelAmtSatoshis  string `json:"channel_amt_satoshis"`
	ChannelAnnouncement string `json:"channel_announcement,omitempty"`
	AmtMillisatoshis    string `json:"amt_millisatoshis"`
	Invoice             string `json:"invoice"`
	Message             string `json:"message"`
	ChannelID           string `json:"channel_id"`
}

// NodeInfo is a snapshot of the node.
type NodeInfo struct {
	Pubkey               string `json:"pubkey"`
	ChannelsNumber       int    `json:"channels_number"`
	UsableChannelsNumber int    `json:"usable_channels_number"`
	LocalBalanceMsat     uint64 `json:"local_balance_msat"`
	Peers                int    `json:"peers"`
}

// PeerList lists the connected peers.
type PeerList struct {
	Peers []string `json:"peers"`
}

// ChannelDetails describes a channel. Available balances are zero while the channel cannot be used.
type ChannelDetails struct {
	ChannelID                   string `json:"channel_id"`
	TxID                        string `json:"tx_id"`
	PeerPubkey                  string `json:"peer_pubkey"`
	PeerAlias                   string `json:"peer_alias"`
	ShortChannelID              uint64 `json:"short_channel_id"`
	IsConfirmedOnchain          bool   `json:"is_confirmed_onchain"`
	LocalBalanceMsat            uint64 `json:"local_balance_msat"`
	ChannelValueSatoshis        uint64 `json:"channel_value_satoshis"`
	AvailableBalanceForSendMsat uint64 `json:"available_balance_for_send_msat"`
	AvailableBalanceForRecvMsat uint64 `json:"available_balance_for_recv_msat"`
	ChannelCanSendPayments      bool   `json:"channel_can_send_payments"`
	Public                      bool   `json:"public"`
}

// ChannelList lists the channels of the node.
type ChannelList struct {
	Channels []ChannelDetails `json:"channels"`
}

// InvoiceResponse carries an encoded BOLT11 invoice.
type InvoiceResponse struct {
	Invoice string `json:"invoice"`
}

// Payment is a row of ListPayments.
type Payment struct {
	AmountMillisatoshis string `json:"amount_millisatoshis"`
	PaymentHash         string `json:"payment_hash"`
	HTLCDirection       string `json:"htlc_direction"`
	HTLCStatus          string `json:"htlc_status"`
}

// PaymentList lists inbound and outbound payments, in no particular order.
type PaymentList struct {
	Payments []Payment `json:"payments"`
}

// Usage of each command.
var Usage = map[string]string{ //nolint:gochecknoglobals
	"openchannel":       "pubkey@host:port <amt_satoshis> [--public]",
	"sendpayment":       "<invoice>",
	"getinvoice":        "<amt_millisatoshis>",
	"connectpeer":       "pubkey@host:port",
	"listchannels":      "",
	"listpayments":      "",
	"closechannel":      "<channel_id>",
	"forceclosechannel": "<channel_id>",
	"nodeinfo":          "",
	"listpeers":         "",
	"signmessage":       "<message>",
}

// parseAmount parses a non-negative base-10 integer.
func parseAmount(s string) (uint64, bool) {
	n, err := strconv.ParseUint(s, 10, 64)

	return n, err == nil
}

// Help returns the usage of every command.
func (s *Server) Help(ctx context.Context, _ Request) (interface{}, error) {
	return Usage, nil
}

// NodeInfo returns the node pubkey, its channel counts, its local balance and its number of peers.
func (s *Server) NodeInfo(ctx context.Context, _ Request) (interface{}, error) {
	channels, err := s.st.Channels.ListChannels(ctx)
	if err != nil {
		return nil, engineErr("ERROR: cannot list channels: %v", err)
	}

	peers, err := s.st.Peers.ListPeers(ctx)
	if err != nil {
		return nil, engineErr("ERROR: cannot list peers: %v", err)
	}

	info := NodeInfo{
		Pubkey:         s.st.Identity.NodeID().String(),
		ChannelsNumber: len(channels),
		Peers:          len(peers),
	}

	for _, c := range channels {
		if c.Usable {
			info.UsableChannelsNumber++
		}

		info.LocalBalanceMsat += uint64(c.LocalBalance)
	}

	return info, nil
}

// ListPeers returns the pubkeys of the connected peers.
func (s *Server) ListPeers(ctx context.Context, _ Request) (interface{}, error) {
	peers, err := s.st.Peers.ListPeers(ctx)
	if err != nil {
		return nil, engineErr("ERROR: cannot list peers: %v", err)
	}

	list := PeerList{Peers: make([]string, 0, len(peers))}
	for _, p := range peers {
		list.Peers = append(list.Peers, p.String())
	}

	return list, nil
}

// ListChannels returns the channels of the node. Peer aliases are looked up in the graph.
func (s *Server) ListChannels(ctx context.Context, _ Request) (interface{}, error) {
	channels, err := s.st.Channels.ListChannels(ctx)
	if err != nil {
		return nil, engineErr("ERROR: cannot list channels: %v", err)
	}

	list := ChannelList{Channels: make([]ChannelDetails, 0, len(channels))}

	for _, c := range channels {
		d := ChannelDetails{
			ChannelID:              c.ChannelID.String(),
			TxID:                   c.FundingTxID,
			PeerPubkey:             c.PeerPubkey.String(),
			IsConfirmedOnchain:     c.Confirmed,
			LocalBalanceMsat:       uint64(c.LocalBalance),
			ChannelValueSatoshis:   uint64(c.Capacity),
			ChannelCanSendPayments: c.Usable,
			Public:                 c.Public,
		}

		if alias, ok := s.st.Graph.NodeAlias(ctx, c.PeerPubkey); ok {
			d.PeerAlias = engine.SanitizeAlias(alias)
		}

		if c.ShortChannelID != nil {
			d.ShortChannelID = c.ShortChannelID.ToUint64()
		}

		if c.Usable {
			d.AvailableBalanceForSendMsat = uint64(c.OutboundMsat)
			d.AvailableBalanceForRecvMsat = uint64(c.InboundMsat)
		}

		list.Channels = append(list.Channels, d)
	}

	return list, nil
}

// connectIfNecessary connects to the peer unless it is connected already.
func (s *Server) connectIfNecessary(ctx context.Context, addr *lnwire.NetAddress) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	peers, err := s.st.Peers.ListPeers(ctx)
	if err != nil {
		return err
	}

	id := route.NewVertex(addr.IdentityKey)
	for _, p := range peers {
		if p == id {
			return nil
		}
	}

	return s.st.Peers.ConnectPeer(ctx, addr)
}

// ConnectPeer connects to pubkey@host:port. Connecting to a connected peer succeeds without a new connection.
func (s *Server) ConnectPeer(ctx context.Context, req Request) (interface{}, error) {
	if req.Pubkey == "" || req.Host == "" || req.Port == "" {
		return nil, clientErr("ERROR: connectpeer requires peer connection info: `connectpeer pubkey@host:port`")
	}

	addr, err := engine.ParsePeerAddr(req.Pubkey + "@" + req.Host + ":" + req.Port)
	if err != nil {
		return nil, clientErr("ERROR: %v", err)
	}

	if err = s.connectIfNecessary(ctx, addr); err != nil {
		log.Printf("[server] Cannot connect to %s: %v", engine.PeerString(addr), err)

		return nil, clientErr("Failed to connect to peer")
	}

	return fmt.Sprintf("SUCCESS: connected to peer %s", req.Pubkey), nil
}

// OpenChannel opens a channel with a peer, connecting to it first if needed. The peer address is saved so the node
// reconnects on restart.
func (s *Server) OpenChannel(ctx context.Context, req Request) (interface{}, error) {
	if req.Pubkey == "" || req.Host == "" || req.Port == "" || req.ChannelAmtSatoshis == "" {
		return nil, clientErr("ERROR: openchannel has 2 required arguments: " +
			"`openchannel pubkey@host:port channel_amt_satoshis` [--public]")
	}

	amt, ok := parseAmount(req.ChannelAmtSatoshis)
	if !ok {
		return nil, clientErr("ERROR: channel amount must be a number")
	}

	addr, err := engine.ParsePeerAddr(req.Pubkey + "@" + req.Host + ":" + req.Port)
	if err != nil {
		return nil, clientErr("ERROR: %v", err)
	}

	if err = s.connectIfNecessary(ctx, addr); err != nil {
		log.Printf("[server] Cannot connect to %s: %v", engine.PeerString(addr), err)

		return nil, clientErr("ERROR: cannot connect to peer")
	}

	peer := route.NewVertex(addr.IdentityKey)
	if err = s.st.Channels.OpenChannel(ctx, peer, btcutil.Amount(amt), req.ChannelAnnouncement == "true"); err != nil {
		return nil, engineErr("ERROR: unable to open a channel with peer: %v", err)
	}

	if s.st.DB != nil {
		if err = s.st.DB.AddChannelPeer(engine.PeerString(addr)); err != nil {
			log.Printf("[server] Cannot save channel peer %s: %v", engine.PeerString(addr), err)
		}
	}

	return fmt.Sprintf("EVENT: initiated channel with peer %s. ", peer), nil
}

// GetInvoice issues an invoice and records it as a Pending inbound payment.
func (s *Server) GetInvoice(ctx context.Context, req Request) (interface{}, error) {
	if req.AmtMillisatoshis == "" {
		return nil, clientErr("ERROR: getinvoice requires an amount in millisatoshis")
	}

	amt, ok := parseAmount(req.AmtMillisatoshis)
	if !ok {
		return nil, clientErr("ERROR: getinvoice provided payment amount was not a number")
	}

	inv, err := s.st.Channels.CreateInvoice(ctx, lnwire.MilliSatoshi(amt))
	if err != nil {
		return nil, engineErr("ERROR: failed to create invoice: %v", err)
	}

	secret := ledger.Secret(inv.Secret)
	if err = s.st.Ledger.RecordInbound(inv.Hash, &secret, &amt); err != nil {
		return nil, internalErr("ERROR: cannot record invoice: %v", err)
	}

	return InvoiceResponse{Invoice: inv.Encoded}, nil
}

// SendPayment pays an invoice. The outbound record is created together with dispatching the payment.
func (s *Server) SendPayment(ctx context.Context, req Request) (interface{}, error) {
	if req.Invoice == "" {
		return nil, clientErr("ERROR: sendpayment requires an invoice: `sendpayment <invoice>`")
	}

	inv, err := engine.DecodeInvoice(req.Invoice, s.st.Params)
	if err != nil {
		return nil, clientErr("ERROR: invalid invoice: %v", err)
	}

	hash := lntypes.Hash(*inv.PaymentHash)
	amt := uint64(*inv.MilliSat)

	err = s.st.Ledger.DispatchOutbound(hash, (*ledger.Secret)(inv.PaymentAddr), &amt, func() error {
		return s.st.Channels.PayInvoice(ctx, inv, req.Invoice)
	})

	var pe *engine.PaymentError

	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrDuplicate):
		return nil, clientErr("ERROR: payment %s already initiated", hash)
	case errors.As(err, &pe) && pe.Kind == engine.InvoiceInvalid:
		return nil, engineErr("ERROR: invalid invoice: %v", err)
	case errors.As(err, &pe) && pe.Kind == engine.RouteNotFound:
		return nil, engineErr("ERROR: failed to find route: %v", err)
	default:
		return nil, engineErr("ERROR: failed to send payment: %v", err)
	}

	payee := "unknown payee"
	if inv.Destination != nil {
		payee = fmt.Sprintf("%x", inv.Destination.SerializeCompressed())
	}

	return fmt.Sprintf("EVENT: initiated sending %d msats to %s", amt, payee), nil
}

// ListPayments returns every inbound and outbound payment.
func (s *Server) ListPayments(ctx context.Context, _ Request) (interface{}, error) {
	list := PaymentList{Payments: []Payment{}}

	for e := range s.st.Ledger.SnapshotAll() {
		amount := "unknown"
		if e.Record.AmountMsat != nil {
			amount = strconv.FormatUint(*e.Record.AmountMsat, 10)
		}

		list.Payments = append(list.Payments, Payment{
			AmountMillisatoshis: amount,
			PaymentHash:         e.Hash.String(),
			HTLCDirection:       e.Direction.String(),
			HTLCStatus:          e.Record.Status.String(),
		})
	}

	return list, nil
}

// SignMessage signs a message with the node identity key.
func (s *Server) SignMessage(ctx context.Context, req Request) (interface{}, error) {
	if req.Message == "" {
		return nil, clientErr("ERROR: signmsg requires a message")
	}

	sig, err := s.st.Identity.SignMessage(req.Message)
	if err != nil {
		return nil, clientErr("ERROR: failed to sign message. %v", err)
	}

	return sig, nil
}

func (s *Server) closeChannel(ctx context.Context, req Request, force bool) (interface{}, error) {
	if req.ChannelID == "" {
		return nil, clientErr("ERROR: closechannel requires a channel ID: `closechannel <channel_id>`")
	}

	id, err := engine.ParseChannelID(req.ChannelID)
	if err != nil {
		return nil, clientErr("ERROR: couldn't parse channel_id")
	}

	if force {
		if err = s.st.Channels.ForceCloseChannel(ctx, id); err != nil {
			return nil, engineErr("ERROR: failed to force-close channel => %v", err)
		}

		return "EVENT: initiating channel force-close", nil
	}

	if err = s.st.Channels.CloseChannel(ctx, id); err != nil {
		return nil, engineErr("ERROR: failed to close channel => %v", err)
	}

	return "EVENT: initiating channel close", nil
}

// CloseChannel starts a cooperative close. Completion is reported later by a ChannelClosed event.
func (s *Server) CloseChannel(ctx context.Context, req Request) (interface{}, error) {
	return s.closeChannel(ctx, req, false)
}

// ForceCloseChannel starts a unilateral close.
func (s *Server) ForceCloseChannel(ctx context.Context, req Request) (interface{}, error) {
	return s.closeChannel(ctx, req, true)
}

// ReconnectPeers connects to every peer of the channel peer book that is not connected. Failures are logged.
func (s *Server) ReconnectPeers(ctx context.Context) error {
	if s.st.DB == nil {
		return nil
	}

	peers, err := s.st.DB.GetChannelPeers()
	if err != nil {
		return fmt.Errorf("cannot read channel peers: %w", err)
	}

	for _, p := range peers {
		addr, err := engine.ParsePeerAddr(p)
		if err != nil {
			log.Printf("[server] Ignoring channel peer %s: %v", p, err)

			continue
		}

		if err = s.connectIfNecessary(ctx, addr); err != nil {
			log.Printf("[server] Cannot reconnect to %s: %v", p, err)
		}
	}

	return nil
}
