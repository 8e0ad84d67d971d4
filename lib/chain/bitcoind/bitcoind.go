// Package bitcoind implements the wallet interface on the JSON-RPC wallet of a bitcoind node.
package bitcoind

import (
	"context"
	"fmt"
	"log"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// FallbackFeeRate is used when the node has not seen enough blocks to estimate a fee (ie. regtest), in sat/kvB.
const FallbackFeeRate btcutil.Amount = 1000

// Bitcoind implements a connection to the wallet of a bitcoind node.
type Bitcoind struct {
	c *rpcclient.Client
}

// Init returns a client to the bitcoind RPC server at host (ie. localhost:8332) authenticated with user and pass.
func Init(host, user, pass string, params *chaincfg.Params) (*Bitcoind, error) {
	c, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         user,
		Pass:         pass,
		Params:       params.Name,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to bitcoind in %s: %w", host, err)
	}

	return &Bitcoind{c: c}, nil
}

// Close ends a connection
func (b *Bitcoind) Close() {
	b.c.Shutdown()
}

// BuildRawTx calls createrawtransaction with no inputs.
func (b *Bitcoind) BuildRawTx(ctx context.Context, outputs map[btcutil.Address]btcutil.Amount) (*wire.MsgTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := b.c.CreateRawTransaction([]btcjson.TransactionInput{}, outputs, nil)
	if err != nil {
		return nil, fmt.Errorf("createrawtransaction: %w", err)
	}

	return tx, nil
}

// FundRawTx calls fundrawtransaction with the wallet defaults.
func (b *Bitcoind) FundRawTx(ctx context.Context, tx *wire.MsgTx) (*wire.MsgTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := b.c.FundRawTransaction(tx, btcjson.FundRawTransactionOpts{}, nil)
	if err != nil {
		return nil, fmt.Errorf("fundrawtransaction: %w", err)
	}

	return res.Transaction, nil
}

// SignRawTx calls signrawtransactionwithwallet.
func (b *Bitcoind) SignRawTx(ctx context.Context, tx *wire.MsgTx) (*wire.MsgTx, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	signed, complete, err := b.c.SignRawTransactionWithWallet(tx)
	if err != nil {
		return nil, false, fmt.Errorf("signrawtransactionwithwallet: %w", err)
	}

	return signed, complete, nil
}

// NewAddress calls getnewaddress.
func (b *Bitcoind) NewAddress(ctx context.Context) (btcutil.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr, err := b.c.GetNewAddress("")
	if err != nil {
		return nil, fmt.Errorf("getnewaddress: %w", err)
	}

	return addr, nil
}

// EstimateFee returns the conservative fee rate for confirmation within target blocks, in sat/kvB. It never returns
// less than FallbackFeeRate.
func (b *Bitcoind) EstimateFee(ctx context.Context, target int64) (btcutil.Amount, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	mode := btcjson.EstimateModeConservative

	res, err := b.c.EstimateSmartFee(target, &mode)
	if err != nil {
		return 0, fmt.Errorf("estimatesmartfee: %w", err)
	}

	// fresh nodes and regtest have no estimate yet
	if res.FeeRate == nil {
		log.Printf("[bitcoind] No fee estimate for %d blocks, using %v: %v", target, FallbackFeeRate, res.Errors)

		return FallbackFeeRate, nil
	}

	rate, err := btcutil.NewAmount(*res.FeeRate) // BTC/kvB
	if err != nil {
		return 0, fmt.Errorf("invalid fee rate %v: %w", *res.FeeRate, err)
	}

	if rate < FallbackFeeRate {
		rate = FallbackFeeRate
	}

	return rate, nil
}

// Broadcast calls sendrawtransaction.
func (b *Bitcoind) Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash, err := b.c.SendRawTransaction(tx, false)
	if err != nil {
		return nil, fmt.Errorf("sendrawtransaction: %w", err)
	}

	return hash, nil
}
