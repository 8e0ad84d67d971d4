package bitcoind

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// mockRequest
type mockRequest struct {
	Method string           `json:"method"`
	Params *json.RawMessage `json:"params"`
	ID     *json.RawMessage `json:"id"`
}

// mockError
type mockError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// mockResponse
type mockResponse struct {
	ID     *json.RawMessage `json:"id"`
	Result interface{}      `json:"result"`
	Error  *mockError       `json:"error"`
}

// sampleTx returns a one input, one output transaction and its hex encoding.
func sampleTx(t *testing.T) (*wire.MsgTx, string) {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{1}, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(100000, []byte{0x00, 0x14}))

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("err:%e", err)
	}

	return tx, hex.EncodeToString(buf.Bytes())
}

// mockBitcoind replies to every method in results, and with a method not found error otherwise.
func mockBitcoind(t *testing.T, results map[string]interface{}, calls map[string]int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mockRequest

		var res mockResponse
		// make sure we reply to request either with error or the response
		defer func() {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(res); err != nil {
				t.Logf("[Mock server] Error encoding response:%e\n", err)
			}
		}()

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			res.Error = &mockError{Code: -32700, Message: err.Error()}
			return
		}

		res.ID = req.ID
		calls[req.Method]++

		if v, ok := results[req.Method]; ok {
			res.Result = v
			return
		}

		res.Error = &mockError{Code: -32601, Message: "Method not found"}
	}))
}

func TestWallet(t *testing.T) {
	tx, txHex := sampleTx(t)
	params := &chaincfg.RegressionNetParams

	addr, err := btcutil.NewAddressWitnessPubKeyHash(make([]byte, 20), params)
	if err != nil {
		t.Fatalf("err:%e", err)
	}

	calls := make(map[string]int)
	mock := mockBitcoind(t, map[string]interface{}{
		"createrawtransaction":         txHex,
		"fundrawtransaction":           map[string]interface{}{"hex": txHex, "fee": 0.0000141, "changepos": -1},
		"signrawtransactionwithwallet": map[string]interface{}{"hex": txHex, "complete": false},
		"getnewaddress":                addr.EncodeAddress(),
		"estimatesmartfee":             map[string]interface{}{"feerate": 0.0002, "blocks": 6},
		"getnetworkinfo":               map[string]interface{}{"version": 250000, "subversion": "/Satoshi:25.0.0/"},
		"sendrawtransaction":           tx.TxHash().String(),
	}, calls)
	defer mock.Close()

	b, err := Init(strings.TrimPrefix(mock.URL, "http://"), "user", "pass", params)
	if err != nil {
		t.Fatalf("err:%e", err)
	}
	defer b.Close()

	ctx := context.Background()

	built, err := b.BuildRawTx(ctx, map[btcutil.Address]btcutil.Amount{addr: 100000})
	if err != nil || built.TxHash() != tx.TxHash() {
		t.Errorf("BuildRawTx unexpected tx err:%e", err)
	}

	funded, err := b.FundRawTx(ctx, built)
	if err != nil || funded.TxHash() != tx.TxHash() {
		t.Errorf("FundRawTx unexpected tx err:%e", err)
	}

	if _, complete, err := b.SignRawTx(ctx, funded); err != nil || complete {
		t.Errorf("SignRawTx expected an incomplete signature, complete:%v err:%e", complete, err)
	}

	got, err := b.NewAddress(ctx)
	if err != nil || got.EncodeAddress() != addr.EncodeAddress() {
		t.Errorf("NewAddress got %v err:%e", got, err)
	}

	rate, err := b.EstimateFee(ctx, 6)
	if err != nil || rate != 20000 {
		t.Errorf("EstimateFee got %v err:%e", rate, err)
	}

	hash, err := b.Broadcast(ctx, funded)
	if err != nil || *hash != tx.TxHash() {
		t.Errorf("Broadcast got %v err:%e", hash, err)
	}

	for _, m := range []string{"createrawtransaction", "fundrawtransaction", "signrawtransactionwithwallet",
		"getnewaddress", "estimatesmartfee", "sendrawtransaction"} {
		if calls[m] != 1 {
			t.Errorf("expected one call to %s, got %d", m, calls[m])
		}
	}
}

func TestEstimateFeeFallback(t *testing.T) {
	cases := []struct {
		result  interface{}
		rate    btcutil.Amount
		wantErr bool
	}{
		{map[string]interface{}{"blocks": 0}, FallbackFeeRate, false},
		{map[string]interface{}{"errors": []string{"Insufficient data or no feerate found"}, "blocks": 0},
			FallbackFeeRate, false},
		{map[string]interface{}{"feerate": 0.000001, "blocks": 2}, FallbackFeeRate, false},
	}
	for i, c := range cases {
		mock := mockBitcoind(t, map[string]interface{}{"estimatesmartfee": c.result}, map[string]int{})

		b, err := Init(strings.TrimPrefix(mock.URL, "http://"), "", "", &chaincfg.RegressionNetParams)
		if err != nil {
			t.Fatalf("err:%e", err)
		}

		rate, err := b.EstimateFee(context.Background(), 2)
		if rate != c.rate || (err != nil) != c.wantErr {
			t.Errorf("[%d] got rate %v err:%v", i, rate, err)
		}

		b.Close()
		mock.Close()
	}
}

func TestCancelledContext(t *testing.T) {
	calls := make(map[string]int)
	mock := mockBitcoind(t, map[string]interface{}{}, calls)
	defer mock.Close()

	b, _ := Init(strings.TrimPrefix(mock.URL, "http://"), "", "", &chaincfg.RegressionNetParams)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.NewAddress(ctx); err == nil {
		t.Errorf("expected an error for a cancelled context")
	}

	if len(calls) != 0 {
		t.Errorf("no call expected, got %v", calls)
	}

	if _, err := b.NewAddress(context.Background()); err == nil || !strings.Contains(err.Error(), "getnewaddress") {
		t.Errorf("expected a wrapped rpc error, got %v", fmt.Sprint(err))
	}
}
