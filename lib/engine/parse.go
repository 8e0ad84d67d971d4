package engine

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"unicode"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lncfg"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
)

// DefaultPeerPort is used when a peer address has no port.
const DefaultPeerPort = "9735"

// Errors returned by the parsers
var (
	ErrBadPeerAddr  = errors.New("could not parse peer address")
	ErrBadChannelID = errors.New("channel id must be 32 bytes of hex")
	ErrNoAmount     = errors.New("invoice has no amount")
)

// ParsePeerAddr parses pubkey@host:port, resolving host.
func ParsePeerAddr(addr string) (*lnwire.NetAddress, error) {
	if !strings.Contains(addr, "@") {
		return nil, fmt.Errorf("%w: %s", ErrBadPeerAddr, addr)
	}

	na, err := lncfg.ParseLNAddressString(addr, DefaultPeerPort, net.ResolveTCPAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPeerAddr, err)
	}

	return na, nil
}

// PeerString formats a peer address as pubkey@host:port.
func PeerString(na *lnwire.NetAddress) string {
	return hex.EncodeToString(na.IdentityKey.SerializeCompressed()) + "@" + na.Address.String()
}

// ParseChannelID decodes a 64 character hex channel id.
func ParseChannelID(s string) (lnwire.ChannelID, error) {
	var id lnwire.ChannelID

	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(id) {
		return id, fmt.Errorf("%w: %q", ErrBadChannelID, s)
	}

	copy(id[:], raw)

	return id, nil
}

// DecodeInvoice decodes a BOLT11 invoice for the given network. Invoices without an amount are rejected.
func DecodeInvoice(encoded string, params *chaincfg.Params) (*zpay32.Invoice, error) {
	inv, err := zpay32.Decode(strings.TrimSpace(encoded), params)
	if err != nil {
		return nil, err
	}

	if inv.MilliSat == nil {
		return nil, ErrNoAmount
	}

	return inv, nil
}

// SanitizeAlias keeps the printable ASCII characters of a node alias.
func SanitizeAlias(alias string) string {
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return -1
		}

		return r
	}, alias)
}
