package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder counts the handler methods called.
type recorder struct {
	calls []Kind
}

func (r *recorder) add(k Kind) error { r.calls = append(r.calls, k); return nil }

func (r *recorder) FundingReady(_ context.Context, ev FundingReady) error { return r.add(ev.Kind()) }
func (r *recorder) PaymentReceived(_ context.Context, ev PaymentReceived) error {
	return r.add(ev.Kind())
}
func (r *recorder) PaymentSent(_ context.Context, ev PaymentSent) error     { return r.add(ev.Kind()) }
func (r *recorder) PaymentFailed(_ context.Context, ev PaymentFailed) error { return r.add(ev.Kind()) }
func (r *recorder) PaymentForwarded(_ context.Context, ev PaymentForwarded) error {
	return r.add(ev.Kind())
}
func (r *recorder) PendingHTLCsForwardable(_ context.Context, ev PendingHTLCsForwardable) error {
	return r.add(ev.Kind())
}
func (r *recorder) SpendableOutputs(_ context.Context, ev SpendableOutputs) error {
	return r.add(ev.Kind())
}
func (r *recorder) ChannelClosed(_ context.Context, ev ChannelClosed) error { return r.add(ev.Kind()) }
func (r *recorder) OpenChannelRequest(_ context.Context, ev OpenChannelRequest) error {
	return r.add(ev.Kind())
}
func (r *recorder) DiscardFunding(_ context.Context, ev DiscardFunding) error {
	return r.add(ev.Kind())
}

var fee uint64 = 1000

var all = []Event{
	FundingReady{TempChannelID: Bytes32{1}, ValueSat: 100000, OutputScript: HexBytes{0x00, 0x20}},
	PaymentReceived{PaymentHash: Bytes32{2}, Purpose: Purpose{Kind: PurposeInvoice, Secret: &Bytes32{3}}, AmountMsat: 5},
	PaymentSent{PaymentPreimage: Bytes32{4}, PaymentHash: Bytes32{5}, FeePaidMsat: &fee},
	PaymentFailed{PaymentHash: Bytes32{6}},
	PaymentForwarded{FeeEarnedMsat: &fee},
	PendingHTLCsForwardable{TimeForwardable: 2 * time.Second},
	SpendableOutputs{Outputs: []SpendableOutput{{OutPoint: "aa:1", ValueSat: 10, PkScript: HexBytes{0x00}}}},
	ChannelClosed{ChannelID: Bytes32{7}, Reason: "cooperative"},
	OpenChannelRequest{TempChannelID: Bytes32{8}, CounterpartyNodeID: HexBytes{0x02}, FundingSat: 1},
	DiscardFunding{ChannelID: Bytes32{9}, Transaction: HexBytes{0x01}},
}

func TestDispatch(t *testing.T) {
	r := &recorder{}
	for _, ev := range all {
		require.NoError(t, ev.Dispatch(context.Background(), r))
	}

	require.Len(t, r.calls, len(all))

	for i, ev := range all {
		assert.Equal(t, ev.Kind(), r.calls[i])
	}
}

func TestEnvelope(t *testing.T) {
	for _, ev := range all {
		data, err := Marshal(ev)
		require.NoError(t, err)

		got, err := Unmarshal(data)
		require.NoError(t, err, "kind %s", ev.Kind())
		assert.Equal(t, ev, got)
	}
}

func TestEnvelopeErrors(t *testing.T) {
	cases := []struct {
		name string
		data string
		err  error
	}{
		{"unknown kind", `{"kind":"nope","payload":{}}`, ErrUnknownKind},
		{"short hash", `{"kind":"payment_failed","payload":{"payment_hash":"abcd"}}`, ErrBadHex},
		{"bad hex", `{"kind":"discard_funding","payload":{"transaction":"zz"}}`, ErrBadHex},
	}
	for _, c := range cases {
		_, err := Unmarshal([]byte(c.data))
		if !errors.Is(err, c.err) {
			t.Errorf("%s: expected %v, got %v", c.name, c.err, err)
		}
	}

	if _, err := Unmarshal([]byte("not json")); err == nil {
		t.Errorf("expected an error for invalid json")
	}
}
