package node

import (
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/tarancss/lnnode/lib/ledger"
)

func TestValidate(t *testing.T) {
	s := &State{Ledger: ledger.New(), Params: &chaincfg.RegressionNetParams}

	err := s.Validate()
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}

	for _, name := range []string{"channels", "peers", "graph", "identity", "wallet", "sweeper"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("%s not reported in %v", name, err)
		}
	}

	if strings.Contains(err.Error(), "ledger") || strings.Contains(err.Error(), "params") {
		t.Errorf("set capabilities reported in %v", err)
	}
}
