// Package ledger keeps the payment attempts of the node, inbound and outbound, keyed by payment hash.
//
// Each direction is a separate table guarded by its own RWMutex. A record is inserted Pending and moves once to
// Succeeded or Failed. Records are never deleted, except an outbound record whose dispatch was rejected.
package ledger

import (
	"errors"
	"fmt"
	"iter"
	"log"
	"sync"

	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/tarancss/lnnode/lib/metrics"
	"github.com/tarancss/lnnode/lib/store"
)

// Errors returned
var (
	ErrNotFound  = errors.New("payment not found")
	ErrResolved  = errors.New("payment already resolved")
	ErrDuplicate = errors.New("payment already recorded")
)

// Direction of a payment.
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}

	return "outbound"
}

// Status of a payment.
type Status uint8

const (
	Pending Status = iota
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}

	return "pending"
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s != Pending
}

// Secret is the payment secret carried in invoices.
type Secret [32]byte

// Record is a payment attempt. Pointer fields are nil when unknown and are never mutated once stored.
type Record struct {
	Preimage   *lntypes.Preimage
	Secret     *Secret
	Status     Status
	AmountMsat *uint64
}

// Entry is a record with its key, as yielded by SnapshotAll.
type Entry struct {
	Direction Direction
	Hash      lntypes.Hash
	Record
}

// Persister saves every record inserted or transitioned.
type Persister interface {
	SavePayment(p store.Payment) error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPersister saves every change through p. Failures are logged and never undo the change.
func WithPersister(p Persister) Option {
	return func(l *Ledger) { l.persist = p }
}

// WithNotify calls fn with every change, in the order the changes were made. fn runs after the table lock is
// released.
func WithNotify(fn func(Entry)) Option {
	return func(l *Ledger) { l.notify = fn }
}

type table struct {
	mu    sync.RWMutex
	m     map[lntypes.Hash]Record
	queue []Entry // changes not yet persisted, guarded by mu

	flushMu sync.Mutex // serializes persisting so changes keep their order
}

// Ledger is safe for concurrent use.
type Ledger struct {
	in, out table
	persist Persister
	notify  func(Entry)
}

// New returns an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		in:  table{m: make(map[lntypes.Hash]Record)},
		out: table{m: make(map[lntypes.Hash]Record)},
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

func (l *Ledger) table(d Direction) *table {
	if d == Inbound {
		return &l.in
	}

	return &l.out
}

// changed queues a change. It runs with the table write lock held.
func (t *table) changed(d Direction, h lntypes.Hash, r Record) {
	metrics.Ledger.WithLabelValues(d.String(), r.Status.String()).Inc()

	t.queue = append(t.queue, Entry{Direction: d, Hash: h, Record: r})
}

// update runs fn with the table write lock held, then persists and notifies the changes fn made.
func (l *Ledger) update(t *table, fn func() error) error {
	t.mu.Lock()
	err := fn()
	t.mu.Unlock()

	l.flush(t)

	return err
}

// flush hands the queued changes of t to the persister and the notify hook. Concurrent flushes are serialized, so
// changes leave in the order they were queued.
func (l *Ledger) flush(t *table) {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	t.mu.Lock()
	queue := t.queue
	t.queue = nil
	t.mu.Unlock()

	for _, e := range queue {
		if l.persist != nil {
			if err := l.persist.SavePayment(ToStore(e)); err != nil {
				log.Printf("[ledger] cannot save %s payment %s: %v", e.Direction, e.Hash, err)
			}
		}

		if l.notify != nil {
			l.notify(e)
		}
	}
}

func (l *Ledger) insert(d Direction, h lntypes.Hash, secret *Secret, amt *uint64) error {
	t := l.table(d)

	return l.update(t, func() error {
		if _, ok := t.m[h]; ok {
			return fmt.Errorf("%s %s: %w", d, h, ErrDuplicate)
		}

		r := Record{Secret: secret, Status: Pending, AmountMsat: amt}
		t.m[h] = r
		t.changed(d, h, r)

		return nil
	})
}

// RecordInbound inserts a Pending inbound record for an issued invoice.
func (l *Ledger) RecordInbound(h lntypes.Hash, secret *Secret, amt *uint64) error {
	return l.insert(Inbound, h, secret, amt)
}

// RecordOutbound inserts a Pending outbound record.
func (l *Ledger) RecordOutbound(h lntypes.Hash, secret *Secret, amt *uint64) error {
	return l.insert(Outbound, h, secret, amt)
}

// DispatchOutbound reserves a Pending outbound record for h and then calls send, without holding any lock, so a
// settlement for h raised while send runs always finds its record. The record is persisted once send succeeds and is
// removed again when send fails while it is still Pending. send is not called when h is already recorded.
func (l *Ledger) DispatchOutbound(h lntypes.Hash, secret *Secret, amt *uint64, send func() error) error {
	t := &l.out

	err := l.update(t, func() error {
		if _, ok := t.m[h]; ok {
			return fmt.Errorf("outbound %s: %w", h, ErrDuplicate)
		}

		t.m[h] = Record{Secret: secret, Status: Pending, AmountMsat: amt}

		return nil
	})
	if err != nil {
		return err
	}

	sendErr := send()

	// a record resolved while send ran was persisted by its transition
	_ = l.update(t, func() error {
		r, ok := t.m[h]
		switch {
		case !ok || r.Status.Terminal():
		case sendErr != nil:
			delete(t.m, h)
		default:
			t.changed(Outbound, h, r)
		}

		return nil
	})

	return sendErr
}

func (l *Ledger) transition(d Direction, h lntypes.Hash, to Status, preimage *lntypes.Preimage) error {
	t := l.table(d)

	return l.update(t, func() error {
		r, ok := t.m[h]
		if !ok {
			return fmt.Errorf("%s %s: %w", d, h, ErrNotFound)
		}

		if r.Status.Terminal() {
			return fmt.Errorf("%s %s is %s: %w", d, h, r.Status, ErrResolved)
		}

		r.Status = to
		if preimage != nil {
			r.Preimage = preimage
		}

		t.m[h] = r
		t.changed(d, h, r)

		return nil
	})
}

// Settle moves a Pending record to Succeeded and stores its preimage.
func (l *Ledger) Settle(h lntypes.Hash, preimage lntypes.Preimage, d Direction) error {
	return l.transition(d, h, Succeeded, &preimage)
}

// Fail moves a Pending record to Failed.
func (l *Ledger) Fail(h lntypes.Hash, d Direction) error {
	return l.transition(d, h, Failed, nil)
}

// Resolve writes the outcome of a received payment. Without a prior record r is inserted as is; a Pending record
// takes the status of r and any field r knows, keeping its own secret and amount otherwise.
func (l *Ledger) Resolve(d Direction, h lntypes.Hash, r Record) error {
	t := l.table(d)

	return l.update(t, func() error {
		prev, ok := t.m[h]
		if ok {
			if prev.Status.Terminal() {
				return fmt.Errorf("%s %s is %s: %w", d, h, prev.Status, ErrResolved)
			}

			if r.Secret == nil {
				r.Secret = prev.Secret
			}

			if r.AmountMsat == nil {
				r.AmountMsat = prev.AmountMsat
			}

			if r.Preimage == nil {
				r.Preimage = prev.Preimage
			}
		}

		t.m[h] = r
		t.changed(d, h, r)

		return nil
	})
}

// Get returns the record of h.
func (l *Ledger) Get(d Direction, h lntypes.Hash) (Record, bool) {
	t := l.table(d)
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.m[h]

	return r, ok
}

// SnapshotAll yields every inbound record and then every outbound one. Each table is read locked only while it is
// copied, so the sequence is not atomic across the two tables. The sequence can be ranged over more than once, each
// time taking a fresh copy.
func (l *Ledger) SnapshotAll() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, d := range []Direction{Inbound, Outbound} {
			for _, e := range l.table(d).copy(d) {
				if !yield(e) {
					return
				}
			}
		}
	}
}

func (t *table) copy(d Direction) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]Entry, 0, len(t.m))
	for h, r := range t.m {
		entries = append(entries, Entry{Direction: d, Hash: h, Record: r})
	}

	return entries
}

// Load inserts saved payments without persisting them again. Payments that cannot be decoded are skipped and
// reported in the returned error.
func (l *Ledger) Load(payments []store.Payment) error {
	var errs []error

	for _, p := range payments {
		e, err := FromStore(p)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		t := l.table(e.Direction)
		t.mu.Lock()
		t.m[e.Hash] = e.Record
		t.mu.Unlock()
	}

	return errors.Join(errs...)
}
