package keys

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/lnnode/lib/events"
)

const testSeed = "642ce4e20f09c9f4d285c2b336063eaafbe4cb06dece8134f3a64bdd8f8c0c24df73e1a2e7056359b6db61e179ff45e5ada51d14f07b30becb6d92b961d35df4"

func newManager(t *testing.T) *Manager {
	seed, err := hex.DecodeString(testSeed)
	require.NoError(t, err)

	m, err := New(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	return m
}

func TestDeterministic(t *testing.T) {
	a, b := newManager(t), newManager(t)
	assert.Equal(t, a.NodeID(), b.NodeID())

	addr, err := a.Address()
	require.NoError(t, err)
	assert.True(t, addr.IsForNet(&chaincfg.RegressionNetParams))
}

func TestSignMessage(t *testing.T) {
	m := newManager(t)

	sig, err := m.SignMessage("hello")
	require.NoError(t, err)

	ok, err := VerifyMessage("hello", sig, m.NodeID())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyMessage("hellO", sig, m.NodeID())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.SignMessage("")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = VerifyMessage("hello", "not zbase32!", m.NodeID())
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestParseOutPoint(t *testing.T) {
	txid := chainhash.Hash{1, 2, 3}.String()

	cases := []struct {
		in  string
		err bool
	}{
		{txid + ":0", false},
		{txid + ":4294967295", false},
		{txid, true},
		{txid + ":-1", true},
		{"abcd:1", true},
		{txid + ":4294967296", true},
	}
	for _, c := range cases {
		op, err := ParseOutPoint(c.in)
		if (err != nil) != c.err {
			t.Errorf("%s: unexpected err %v", c.in, err)
		}

		if err == nil && op.Hash.String() != txid {
			t.Errorf("%s: unexpected hash %v", c.in, op.Hash)
		}
	}
}

func TestSpendOutputs(t *testing.T) {
	m := newManager(t)

	outputs := []events.SpendableOutput{
		{OutPoint: chainhash.Hash{1}.String() + ":0", ValueSat: 50000, PkScript: m.script},
		{OutPoint: chainhash.Hash{2}.String() + ":3", ValueSat: 70000, PkScript: m.script},
	}

	dest, err := btcutil.NewAddressWitnessPubKeyHash(make([]byte, 20), &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	tx, err := m.SpendOutputs(outputs, dest, 2000)
	require.NoError(t, err)
	require.Len(t, tx.TxIn, 2)
	require.Len(t, tx.TxOut, 1)

	fee := 120000 - tx.TxOut[0].Value
	assert.Greater(t, fee, int64(0))
	assert.Less(t, fee, int64(2000)) // two inputs and one output are well under 1 kvB

	// every input verifies against its previous output
	prevOuts := map[wire.OutPoint]*wire.TxOut{}
	for i, o := range outputs {
		prevOuts[tx.TxIn[i].PreviousOutPoint] = wire.NewTxOut(o.ValueSat, o.PkScript)
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, in := range tx.TxIn {
		prev := prevOuts[in.PreviousOutPoint]
		vm, err := txscript.NewEngine(prev.PkScript, tx, i, txscript.StandardVerifyFlags, nil, sigHashes, prev.Value,
			fetcher)
		require.NoError(t, err)
		assert.NoError(t, vm.Execute(), "input %d", i)
	}
}

func TestSpendOutputsErrors(t *testing.T) {
	m := newManager(t)
	dest, _ := m.Address()
	op := chainhash.Hash{1}.String() + ":0"

	cases := []struct {
		name    string
		outputs []events.SpendableOutput
		err     error
	}{
		{"none", nil, ErrNoOutputs},
		{"foreign script", []events.SpendableOutput{
			{OutPoint: op, ValueSat: 50000, PkScript: m.script},
			{OutPoint: op, ValueSat: 50000, PkScript: []byte{txscript.OP_TRUE}},
		}, ErrUnknownScript},
		{"bad outpoint", []events.SpendableOutput{{OutPoint: "x", ValueSat: 50000, PkScript: m.script}}, ErrBadOutPoint},
		{"dust", []events.SpendableOutput{{OutPoint: op, ValueSat: 600, PkScript: m.script}}, ErrDust},
	}
	for _, c := range cases {
		tx, err := m.SpendOutputs(c.outputs, dest, 1000)
		assert.ErrorIs(t, err, c.err, c.name)
		assert.Nil(t, tx, c.name)
	}
}
