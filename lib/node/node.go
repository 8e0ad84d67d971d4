// Package node bundles the capabilities shared by the event coordinator and the REST API.
package node

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/tarancss/lnnode/lib/chain"
	"github.com/tarancss/lnnode/lib/engine"
	"github.com/tarancss/lnnode/lib/events"
	"github.com/tarancss/lnnode/lib/ledger"
	"github.com/tarancss/lnnode/lib/msg"
	"github.com/tarancss/lnnode/lib/store"
)

// ErrMissing is returned by Validate when a required capability is not set.
var ErrMissing = errors.New("node capability not set")

// Sweeper builds signed transactions spending outputs the engine handed back to the node.
type Sweeper interface {
	SpendOutputs(outputs []events.SpendableOutput, dest btcutil.Address, feeRate btcutil.Amount) (*wire.MsgTx, error)
}

// State is the handle shared by the coordinator and the API. Every capability is safe for concurrent use. DB and
// Broker are optional.
type State struct {
	Channels engine.ChannelEngine
	Peers    engine.PeerEngine
	Graph    engine.Graph
	Identity engine.Identity
	Wallet   chain.Wallet
	Sweeper  Sweeper
	Ledger   *ledger.Ledger
	Params   *chaincfg.Params
	DB       store.DB
	Broker   msg.MsgBroker
}

// Validate checks every required capability is set.
func (s *State) Validate() error {
	required := []struct {
		name string
		set  bool
	}{
		{"channels", s.Channels != nil},
		{"peers", s.Peers != nil},
		{"graph", s.Graph != nil},
		{"identity", s.Identity != nil},
		{"wallet", s.Wallet != nil},
		{"sweeper", s.Sweeper != nil},
		{"ledger", s.Ledger != nil},
		{"params", s.Params != nil},
	}

	var errs []error

	for _, r := range required {
		if !r.set {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, r.name))
		}
	}

	return errors.Join(errs...)
}
