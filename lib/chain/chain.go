// Package chain defines the interface required for the on-chain wallet backing the node.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/tarancss/lnnode/lib/chain/bitcoind"
	"github.com/tarancss/lnnode/lib/config"
)

// Errors returned
var (
	ErrUnknownNetwork = errors.New("unknown bitcoin network")
	ErrUnknownWallet  = errors.New("wallet interface not defined")
)

// Wallet is an interface that contains the methods the node needs from an on-chain wallet. Amounts are in satoshis
// and fee rates in satoshis per 1000 virtual bytes.
type Wallet interface {
	// BuildRawTx returns an unfunded, unsigned transaction paying the given outputs.
	BuildRawTx(ctx context.Context, outputs map[btcutil.Address]btcutil.Amount) (*wire.MsgTx, error)
	// FundRawTx adds wallet inputs and change to tx.
	FundRawTx(ctx context.Context, tx *wire.MsgTx) (*wire.MsgTx, error)
	// SignRawTx signs the wallet inputs of tx. complete is false when some input is still unsigned.
	SignRawTx(ctx context.Context, tx *wire.MsgTx) (signed *wire.MsgTx, complete bool, err error)
	NewAddress(ctx context.Context) (btcutil.Address, error)
	EstimateFee(ctx context.Context, target int64) (btcutil.Amount, error)
	Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)
	Close()
}

// Params returns the chain parameters of a network name as used in the configuration.
func Params(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
}

// Init returns a client to the wallet read from the config.
func Init(wc config.WalletConfig, params *chaincfg.Params) (Wallet, error) {
	switch wc.Type {
	case "bitcoind":
		w, err := bitcoind.Init(wc.Host, wc.User, wc.Pass, params)
		if err != nil {
			return nil, err
		}

		return w, nil
	}

	log.Printf("Wallet interface not defined for %s.\n", wc.Type)

	return nil, fmt.Errorf("%w: %s", ErrUnknownWallet, wc.Type)
}
