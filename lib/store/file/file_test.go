package file

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tarancss/lnnode/lib/store"
)

func TestChannelPeers(t *testing.T) {
	f, err := New(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("err:%e", err)
	}

	peers, err := f.GetChannelPeers()
	if err != nil || len(peers) != 0 {
		t.Errorf("expected no peers, got %v err:%e", peers, err)
	}

	cases := []struct {
		peer string
		err  error
	}{
		{"02aa@127.0.0.1:9735", nil},
		{"03bb@10.0.0.1:9736", nil},
		{"02aa@127.0.0.1:9735", nil}, // already there
		{"", store.ErrInvalidPeer},
		{"02cc@host:1\n03dd@host:2", store.ErrInvalidPeer},
	}
	for i, c := range cases {
		if err = f.AddChannelPeer(c.peer); !errors.Is(err, c.err) {
			t.Errorf("[%d] expected %v got %v", i, c.err, err)
		}
	}

	peers, err = f.GetChannelPeers()
	if err != nil {
		t.Fatalf("err:%e", err)
	}

	if len(peers) != 2 || peers[0] != "02aa@127.0.0.1:9735" || peers[1] != "03bb@10.0.0.1:9736" {
		t.Errorf("unexpected peers %v", peers)
	}

	data, err := os.ReadFile(filepath.Join(f.dir, PeersFile))
	if err != nil || string(data) != "02aa@127.0.0.1:9735\n03bb@10.0.0.1:9736\n" {
		t.Errorf("unexpected peer file %q err:%e", data, err)
	}
}

func TestPayments(t *testing.T) {
	f, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("err:%e", err)
	}

	var amt uint64 = 1000

	if err = f.SavePayment(store.Payment{Hash: "aa", Direction: "inbound", Status: "pending", AmountMsat: &amt}); err != nil {
		t.Fatalf("err:%e", err)
	}

	if err = f.SavePayment(store.Payment{Hash: "aa", Direction: "outbound", Status: "pending"}); err != nil {
		t.Fatalf("err:%e", err)
	}
	// replaces the inbound record
	if err = f.SavePayment(store.Payment{Hash: "aa", Direction: "inbound", Status: "succeeded", Preimage: "bb",
		AmountMsat: &amt}); err != nil {
		t.Fatalf("err:%e", err)
	}

	// a new store on the same dir sees the same payments
	g, _ := New(f.dir)

	payments, err := g.GetPayments()
	if err != nil {
		t.Fatalf("err:%e", err)
	}

	if len(payments) != 2 {
		t.Fatalf("expected 2 payments, got %+v", payments)
	}

	for _, p := range payments {
		if p.Direction == "inbound" && (p.Status != "succeeded" || p.Preimage != "bb" || *p.AmountMsat != amt) {
			t.Errorf("unexpected inbound payment %+v", p)
		}

		if p.Direction == "outbound" && p.Status != "pending" {
			t.Errorf("unexpected outbound payment %+v", p)
		}
	}
}

func TestPreimages(t *testing.T) {
	dir := t.TempDir()

	f, err := New(dir)
	if err != nil {
		t.Fatalf("err:%e", err)
	}

	cases := []struct {
		preimage string
		err      error
	}{
		{"0101", nil},
		{"0202", nil},
		{"0101", nil}, // already there
		{"", store.ErrInvalidPreimage},
		{"03\n04", store.ErrInvalidPreimage},
	}
	for i, c := range cases {
		if err = f.SavePreimage(c.preimage); !errors.Is(err, c.err) {
			t.Errorf("[%d] expected %v got %v", i, c.err, err)
		}
	}

	// a new store on the same dir sees the same preimages
	g, _ := New(dir)

	preimages, err := g.GetPreimages()
	if err != nil || len(preimages) != 2 || preimages[0] != "0101" || preimages[1] != "0202" {
		t.Errorf("unexpected preimages %v err:%v", preimages, err)
	}
	// preimages and peers do not mix
	peers, err := g.GetChannelPeers()
	if err != nil || len(peers) != 0 {
		t.Errorf("unexpected peers %v err:%v", peers, err)
	}
}
