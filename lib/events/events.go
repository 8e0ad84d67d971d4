// Package events defines the closed set of protocol events emitted by the channel engine.
//
// Every event implements Dispatch, which calls the Handler method of its own kind. Handler has one method per kind,
// so adding a new event to this package does not compile until every handler implements it.
package events

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Kind names an event type. It is also the routing key suffix used on the message broker.
type Kind string

// Event kinds.
const (
	KindFundingReady            Kind = "funding_ready"
	KindPaymentReceived         Kind = "payment_received"
	KindPaymentSent             Kind = "payment_sent"
	KindPaymentFailed           Kind = "payment_failed"
	KindPaymentForwarded        Kind = "payment_forwarded"
	KindPendingHTLCsForwardable Kind = "pending_htlcs_forwardable"
	KindSpendableOutputs        Kind = "spendable_outputs"
	KindChannelClosed           Kind = "channel_closed"
	KindOpenChannelRequest      Kind = "open_channel_request"
	KindDiscardFunding          Kind = "discard_funding"
)

// Errors returned when decoding events.
var (
	ErrUnknownKind = errors.New("unknown event kind")
	ErrBadHex      = errors.New("invalid hex value")
)

// Handler reacts to each kind of event.
type Handler interface {
	FundingReady(ctx context.Context, ev FundingReady) error
	PaymentReceived(ctx context.Context, ev PaymentReceived) error
	PaymentSent(ctx context.Context, ev PaymentSent) error
	PaymentFailed(ctx context.Context, ev PaymentFailed) error
	PaymentForwarded(ctx context.Context, ev PaymentForwarded) error
	PendingHTLCsForwardable(ctx context.Context, ev PendingHTLCsForwardable) error
	SpendableOutputs(ctx context.Context, ev SpendableOutputs) error
	ChannelClosed(ctx context.Context, ev ChannelClosed) error
	OpenChannelRequest(ctx context.Context, ev OpenChannelRequest) error
	DiscardFunding(ctx context.Context, ev DiscardFunding) error
}

// Event is implemented only by the types of this package.
type Event interface {
	Kind() Kind
	Dispatch(ctx context.Context, h Handler) error
	sealed()
}

// Bytes32 is a 32-byte value (channel id, payment hash, preimage or secret) encoded as hex text.
type Bytes32 [32]byte

// MarshalText implements encoding.TextMarshaler.
func (b Bytes32) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(b[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bytes32) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil || len(raw) != len(b) {
		return fmt.Errorf("%w: %q is not 32 bytes", ErrBadHex, text)
	}

	copy(b[:], raw)

	return nil
}

// String returns the hex encoding.
func (b Bytes32) String() string {
	return hex.EncodeToString(b[:])
}

// HexBytes is a variable length byte slice (scripts, raw transactions) encoded as hex text.
type HexBytes []byte

// MarshalText implements encoding.TextMarshaler.
func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(b)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *HexBytes) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadHex, err)
	}

	*b = raw

	return nil
}

// FundingReady asks for a funding transaction paying ValueSat to OutputScript for the channel TempChannelID.
type FundingReady struct {
	TempChannelID      Bytes32  `json:"temporary_channel_id"`
	CounterpartyNodeID HexBytes `json:"counterparty_node_id,omitempty"`
	ValueSat           uint64   `json:"channel_value_satoshis"`
	OutputScript       HexBytes `json:"output_script"`
	UserChannelID      uint64   `json:"user_channel_id,omitempty"`
}

// Purpose kinds of a received payment.
const (
	PurposeInvoice     = "invoice"
	PurposeSpontaneous = "spontaneous"
)

// Purpose describes why a payment was received. Invoice payments carry the preimage (when known) and the secret,
// spontaneous (keysend) payments carry only the preimage.
type Purpose struct {
	Kind     string   `json:"kind"`
	Preimage *Bytes32 `json:"payment_preimage,omitempty"`
	Secret   *Bytes32 `json:"payment_secret,omitempty"`
}

// PaymentReceived signals an incoming payment that can be claimed.
type PaymentReceived struct {
	PaymentHash Bytes32 `json:"payment_hash"`
	Purpose     Purpose `json:"purpose"`
	AmountMsat  uint64  `json:"amount_msat"`
}

// PaymentSent signals an outgoing payment reached its destination.
type PaymentSent struct {
	PaymentPreimage Bytes32 `json:"payment_preimage"`
	PaymentHash     Bytes32 `json:"payment_hash"`
	FeePaidMsat     *uint64 `json:"fee_paid_msat,omitempty"`
}

// PaymentFailed signals an outgoing payment will not complete.
type PaymentFailed struct {
	PaymentHash Bytes32 `json:"payment_hash"`
}

// PaymentForwarded signals an HTLC relayed by this node was settled. FeeEarnedMsat is absent when the claim settled
// on-chain.
type PaymentForwarded struct {
	FeeEarnedMsat      *uint64 `json:"fee_earned_msat,omitempty"`
	ClaimFromOnchainTx bool    `json:"claim_from_onchain_tx"`
}

// PendingHTLCsForwardable asks the node to process queued forwards after at least TimeForwardable.
type PendingHTLCsForwardable struct {
	TimeForwardable time.Duration `json:"time_forwardable"`
}

// SpendableOutput is an on-chain output, derived from a channel close, that this node can spend.
type SpendableOutput struct {
	OutPoint string   `json:"outpoint"` // txid:index
	ValueSat int64    `json:"value_satoshis"`
	PkScript HexBytes `json:"script_pubkey"`
}

// SpendableOutputs hands a batch of spendable outputs to the node.
type SpendableOutputs struct {
	Outputs []SpendableOutput `json:"outputs"`
}

// ChannelClosed signals a channel finished closing.
type ChannelClosed struct {
	ChannelID Bytes32 `json:"channel_id"`
	Reason    string  `json:"reason"`
}

// OpenChannelRequest is raised only when manual accept of inbound channels is enabled.
type OpenChannelRequest struct {
	TempChannelID      Bytes32  `json:"temporary_channel_id"`
	CounterpartyNodeID HexBytes `json:"counterparty_node_id"`
	FundingSat         uint64   `json:"funding_satoshis"`
	PushMsat           uint64   `json:"push_msat"`
}

// DiscardFunding tells the node a funding transaction will never be broadcast.
type DiscardFunding struct {
	ChannelID   Bytes32  `json:"channel_id"`
	Transaction HexBytes `json:"transaction"`
}

func (FundingReady) Kind() Kind            { return KindFundingReady }
func (PaymentReceived) Kind() Kind         { return KindPaymentReceived }
func (PaymentSent) Kind() Kind             { return KindPaymentSent }
func (PaymentFailed) Kind() Kind           { return KindPaymentFailed }
func (PaymentForwarded) Kind() Kind        { return KindPaymentForwarded }
func (PendingHTLCsForwardable) Kind() Kind { return KindPendingHTLCsForwardable }
func (SpendableOutputs) Kind() Kind        { return KindSpendableOutputs }
func (ChannelClosed) Kind() Kind           { return KindChannelClosed }
func (OpenChannelRequest) Kind() Kind      { return KindOpenChannelRequest }
func (DiscardFunding) Kind() Kind          { return KindDiscardFunding }

func (e FundingReady) Dispatch(ctx context.Context, h Handler) error    { return h.FundingReady(ctx, e) }
func (e PaymentReceived) Dispatch(ctx context.Context, h Handler) error { return h.PaymentReceived(ctx, e) }
func (e PaymentSent) Dispatch(ctx context.Context, h Handler) error     { return h.PaymentSent(ctx, e) }
func (e PaymentFailed) Dispatch(ctx context.Context, h Handler) error   { return h.PaymentFailed(ctx, e) }

func (e PaymentForwarded) Dispatch(ctx context.Context, h Handler) error {
	return h.PaymentForwarded(ctx, e)
}

func (e PendingHTLCsForwardable) Dispatch(ctx context.Context, h Handler) error {
	return h.PendingHTLCsForwardable(ctx, e)
}

func (e SpendableOutputs) Dispatch(ctx context.Context, h Handler) error {
	return h.SpendableOutputs(ctx, e)
}

func (e ChannelClosed) Dispatch(ctx context.Context, h Handler) error { return h.ChannelClosed(ctx, e) }

func (e OpenChannelRequest) Dispatch(ctx context.Context, h Handler) error {
	return h.OpenChannelRequest(ctx, e)
}

func (e DiscardFunding) Dispatch(ctx context.Context, h Handler) error { return h.DiscardFunding(ctx, e) }

func (FundingReady) sealed()            {}
func (PaymentReceived) sealed()         {}
func (PaymentSent) sealed()             {}
func (PaymentFailed) sealed()           {}
func (PaymentForwarded) sealed()        {}
func (PendingHTLCsForwardable) sealed() {}
func (SpendableOutputs) sealed()        {}
func (ChannelClosed) sealed()           {}
func (OpenChannelRequest) sealed()      {}
func (DiscardFunding) sealed()          {}
