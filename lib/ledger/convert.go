package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/tarancss/lnnode/lib/store"
)

// ErrBadPayment is returned by FromStore for payments that cannot be decoded.
var ErrBadPayment = errors.New("invalid stored payment")

// ParseDirection is the inverse of Direction.String.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "inbound":
		return Inbound, nil
	case "outbound":
		return Outbound, nil
	}

	return 0, fmt.Errorf("%w: direction %q", ErrBadPayment, s)
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return Pending, nil
	case "succeeded":
		return Succeeded, nil
	case "failed":
		return Failed, nil
	}

	return 0, fmt.Errorf("%w: status %q", ErrBadPayment, s)
}

// ToStore converts an entry to the store format.
func ToStore(e Entry) store.Payment {
	p := store.Payment{
		Hash:       e.Hash.String(),
		Direction:  e.Direction.String(),
		Status:     e.Status.String(),
		AmountMsat: e.AmountMsat,
	}
	if e.Preimage != nil {
		p.Preimage = e.Preimage.String()
	}

	if e.Secret != nil {
		p.Secret = hex.EncodeToString(e.Secret[:])
	}

	return p
}

// FromStore converts a stored payment back to an entry.
func FromStore(p store.Payment) (e Entry, err error) {
	if e.Direction, err = ParseDirection(p.Direction); err != nil {
		return
	}

	if e.Status, err = ParseStatus(p.Status); err != nil {
		return
	}

	h, err := lntypes.MakeHashFromStr(p.Hash)
	if err != nil {
		return e, fmt.Errorf("%w: hash %q: %v", ErrBadPayment, p.Hash, err)
	}

	e.Hash = h

	if p.Preimage != "" {
		pre, err := lntypes.MakePreimageFromStr(p.Preimage)
		if err != nil {
			return e, fmt.Errorf("%w: preimage: %v", ErrBadPayment, err)
		}

		e.Preimage = &pre
	}

	if p.Secret != "" {
		raw, err := hex.DecodeString(p.Secret)
		if err != nil || len(raw) != len(Secret{}) {
			return e, fmt.Errorf("%w: secret %q", ErrBadPayment, p.Secret)
		}

		var s Secret

		copy(s[:], raw)
		e.Secret = &s
	}

	e.AmountMsat = p.AmountMsat

	return e, nil
}
