// Package store defines the interface for database implementations to the node.
package store

import (
	"errors"
)

// DB defines required methods for the node
type DB interface {
	// channel peer book
	AddChannelPeer(peer string) error
	GetChannelPeers() ([]string, error)
	// payment ledger audit trail
	SavePayment(p Payment) error
	GetPayments() ([]Payment, error)
	// hold invoice preimages, hex encoded
	SavePreimage(preimage string) error
	GetPreimages() ([]string, error)
}

// Errors returned
var (
	ErrInvalidPeer     = errors.New("Peer address is empty or spans several lines")
	ErrInvalidPreimage = errors.New("Preimage is empty or spans several lines")
	ErrDataNotFound    = errors.New("Data was not found in store")
)
