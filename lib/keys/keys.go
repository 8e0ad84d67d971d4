// Package keys derives the node keys from the HD seed and signs with them: node identity signatures over operator
// messages and sweeps of the on-chain outputs the node is paid to after channels close.
package keys

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/tarancss/hd"
	"github.com/tv42/zbase32"

	"github.com/tarancss/lnnode/lib/events"
)

// SignedMsgPrefix is prepended to every message before it is signed.
const SignedMsgPrefix = "Lightning Signed Message:"

// DustLimit is the smallest sweep output created, in satoshis.
const DustLimit btcutil.Amount = 546

// HD path of the node key: wallet 0, external chain, index 0.
const (
	nodeWallet uint32 = 0
	nodeIndex  uint32 = 0
)

// Errors returned
var (
	ErrEmptyMessage  = errors.New("message is empty")
	ErrBadSignature  = errors.New("signature cannot be decoded")
	ErrNoOutputs     = errors.New("no outputs to spend")
	ErrUnknownScript = errors.New("output script is not spendable by the node key")
	ErrBadOutPoint   = errors.New("invalid outpoint")
	ErrDust          = errors.New("outputs do not cover the fee")
)

// Manager holds the node key.
type Manager struct {
	priv   *btcec.PrivateKey
	params *chaincfg.Params
	script []byte // P2WPKH script of the node key
}

// New derives the node key from the HD wallet seed.
func New(seed []byte, params *chaincfg.Params) (*Manager, error) {
	hdw, err := hd.Init(seed)
	if err != nil {
		return nil, fmt.Errorf("cannot initialise HD wallet: %w", err)
	}

	_, key, _, err := hdw.Address(nodeWallet, hd.External, nodeIndex)
	if err != nil {
		return nil, fmt.Errorf("cannot derive node key: %w", err)
	}

	priv, _ := btcec.PrivKeyFromBytes(key)

	m := &Manager{priv: priv, params: params}

	addr, err := m.Address()
	if err != nil {
		return nil, err
	}

	if m.script, err = txscript.PayToAddrScript(addr); err != nil {
		return nil, fmt.Errorf("cannot build node script: %w", err)
	}

	return m, nil
}

// NodeID returns the compressed public key of the node.
func (m *Manager) NodeID() route.Vertex {
	return route.NewVertex(m.priv.PubKey())
}

// Address returns the P2WPKH address of the node key. Outputs paid to it can be swept by SpendOutputs.
func (m *Manager) Address() (*btcutil.AddressWitnessPubKeyHash, error) {
	return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(m.priv.PubKey().SerializeCompressed()), m.params)
}

func signedMsgHash(msg string) []byte {
	return chainhash.DoubleHashB([]byte(SignedMsgPrefix + msg))
}

// SignMessage returns the zbase32 encoded compact signature of msg by the node key.
func (m *Manager) SignMessage(msg string) (string, error) {
	if msg == "" {
		return "", ErrEmptyMessage
	}

	sig, err := ecdsa.SignCompact(m.priv, signedMsgHash(msg), true)
	if err != nil {
		return "", fmt.Errorf("cannot sign message: %w", err)
	}

	return zbase32.EncodeToString(sig), nil
}

// VerifyMessage reports whether sig is a signature of msg by the node pubkey.
func VerifyMessage(msg, sig string, pubkey route.Vertex) (bool, error) {
	raw, err := zbase32.DecodeString(sig)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	pub, _, err := ecdsa.RecoverCompact(raw, signedMsgHash(msg))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	return route.NewVertex(pub) == pubkey, nil
}

// ParseOutPoint parses txid:index.
func ParseOutPoint(s string) (*wire.OutPoint, error) {
	txid, idx, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBadOutPoint, s)
	}

	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadOutPoint, s, err)
	}

	n, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadOutPoint, s, err)
	}

	return wire.NewOutPoint(hash, uint32(n)), nil
}

// SpendOutputs builds and signs one transaction spending every output to dest, paying feeRate (sat/kvB). Outputs
// must pay to the node key; any other script fails the whole batch.
func (m *Manager) SpendOutputs(outputs []events.SpendableOutput, dest btcutil.Address,
	feeRate btcutil.Amount,
) (*wire.MsgTx, error) {
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}

	destScript, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return nil, fmt.Errorf("invalid destination %s: %w", dest, err)
	}

	var (
		total btcutil.Amount
		we    input.TxWeightEstimator
	)

	tx := wire.NewMsgTx(2)
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(outputs))

	for _, o := range outputs {
		if string(o.PkScript) != string(m.script) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownScript, o.OutPoint)
		}

		op, err := ParseOutPoint(o.OutPoint)
		if err != nil {
			return nil, err
		}

		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
		prevOuts[*op] = wire.NewTxOut(o.ValueSat, o.PkScript)
		total += btcutil.Amount(o.ValueSat)

		we.AddP2WKHInput()
	}

	addOutputWeight(&we, dest)

	fee := feeRate * btcutil.Amount(we.VSize()) / 1000 //nolint:gomnd // rate per kvB
	if total-fee < DustLimit {
		return nil, fmt.Errorf("%w: value %v fee %v", ErrDust, total, fee)
	}

	tx.AddTxOut(wire.NewTxOut(int64(total-fee), destScript))

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, in := range tx.TxIn {
		prev := prevOuts[in.PreviousOutPoint]

		in.Witness, err = txscript.WitnessSignature(tx, sigHashes, i, prev.Value, prev.PkScript, txscript.SigHashAll,
			m.priv, true)
		if err != nil {
			return nil, fmt.Errorf("cannot sign input %d: %w", i, err)
		}
	}

	return tx, nil
}

func addOutputWeight(we *input.TxWeightEstimator, dest btcutil.Address) {
	switch dest.(type) {
	case *btcutil.AddressWitnessScriptHash:
		we.AddP2WSHOutput()
	case *btcutil.AddressTaproot:
		we.AddP2TROutput()
	case *btcutil.AddressScriptHash:
		we.AddP2SHOutput()
	case *btcutil.AddressPubKeyHash:
		we.AddP2PKHOutput()
	default:
		we.AddP2WKHOutput()
	}
}
