// Package file implements the store interface on plain files under a data directory. Channel peers are kept one per
// line in channel_peer_data, hold invoice preimages one per line in invoice_preimages, payments as a JSON document in
// payments.json.
package file

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tarancss/lnnode/lib/store"
	"github.com/tarancss/lnnode/lib/util"
)

// File names under the data directory.
const (
	PeersFile     = "channel_peer_data"
	PreimagesFile = "invoice_preimages"
	PaymentsFile  = "payments.json"
)

// File implements a store on files under dir.
type File struct {
	dir string
	mu  sync.Mutex
}

// New returns a File store writing under dir, which is created if it does not exist.
func New(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil { //nolint:gomnd // owner only
		return nil, fmt.Errorf("cannot create data dir %s: %w", dir, err)
	}

	return &File{dir: dir}, nil
}

// CloseFile exists for symmetry with the other stores, files are never kept open.
func (f *File) CloseFile() error {
	return nil
}

// AddChannelPeer appends the peer address (pubkey@host:port) to the peer file unless it is already there.
func (f *File) AddChannelPeer(peer string) error {
	if !util.SingleLine(peer) {
		return store.ErrInvalidPeer
	}

	return f.addLine(PeersFile, "peer", peer)
}

// GetChannelPeers returns the peer addresses saved, in insertion order. A missing file is an empty peer book.
func (f *File) GetChannelPeers() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.readLines(PeersFile, "peer")
}

// SavePreimage appends the preimage to the preimage file unless it is already there. The file is synced before
// returning, the invoice must not be issued before its preimage is on disk.
func (f *File) SavePreimage(preimage string) error {
	if !util.SingleLine(preimage) {
		return store.ErrInvalidPreimage
	}

	return f.addLine(PreimagesFile, "preimage", preimage)
}

// GetPreimages returns the preimages saved, in insertion order.
func (f *File) GetPreimages() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.readLines(PreimagesFile, "preimage")
}

func (f *File) addLine(name, what, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines, err := f.readLines(name, what)
	if err != nil {
		return err
	}

	if util.In(lines, line) {
		return nil
	}

	fh, err := os.OpenFile(filepath.Join(f.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gomnd
	if err != nil {
		return fmt.Errorf("cannot open %s file: %w", what, err)
	}
	defer fh.Close()

	if _, err = fh.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("cannot write %s file: %w", what, err)
	}

	if err = fh.Sync(); err != nil {
		return fmt.Errorf("cannot sync %s file: %w", what, err)
	}

	return nil
}

// readLines returns the non blank lines of a file. A missing file has no lines.
func (f *File) readLines(name, what string) ([]string, error) {
	fh, err := os.Open(filepath.Join(f.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("cannot open %s file: %w", what, err)
	}
	defer fh.Close()

	lines := []string{}

	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}

	if err = sc.Err(); err != nil {
		return nil, fmt.Errorf("cannot read %s file: %w", what, err)
	}

	return lines, nil
}

// SavePayment inserts or replaces the payment with the same direction and hash.
func (f *File) SavePayment(p store.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	payments, err := f.readPayments()
	if err != nil {
		return err
	}

	payments[p.Key()] = p

	data, err := json.MarshalIndent(payments, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal payments: %w", err)
	}
	// write then rename so a crash never leaves a truncated file
	tmp := filepath.Join(f.dir, PaymentsFile+".tmp")
	if err = os.WriteFile(tmp, data, 0o600); err != nil { //nolint:gomnd
		return fmt.Errorf("cannot write payments: %w", err)
	}

	return os.Rename(tmp, filepath.Join(f.dir, PaymentsFile))
}

// GetPayments returns every payment saved, in no particular order.
func (f *File) GetPayments() ([]store.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	payments, err := f.readPayments()
	if err != nil {
		return nil, err
	}

	res := make([]store.Payment, 0, len(payments))
	for _, p := range payments {
		res = append(res, p)
	}

	return res, nil
}

func (f *File) readPayments() (map[string]store.Payment, error) {
	payments := make(map[string]store.Payment)

	data, err := os.ReadFile(filepath.Join(f.dir, PaymentsFile))
	if errors.Is(err, os.ErrNotExist) {
		return payments, nil
	}

	if err != nil {
		return nil, fmt.Errorf("cannot read payments: %w", err)
	}

	if err = json.Unmarshal(data, &payments); err != nil {
		return nil, fmt.Errorf("cannot decode payments: %w", err)
	}

	return payments, nil
}
