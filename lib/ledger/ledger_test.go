package ledger

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/lnnode/lib/store"
)

func hashOf(b byte) (lntypes.Preimage, lntypes.Hash) {
	p := lntypes.Preimage{b}

	return p, p.Hash()
}

// memStore records the payments saved.
type memStore struct {
	mu    sync.Mutex
	saved []store.Payment
	err   error
}

func (m *memStore) SavePayment(p store.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saved = append(m.saved, p)

	return m.err
}

func TestTransitions(t *testing.T) {
	pre, h := hashOf(1)
	_, missing := hashOf(2)

	cases := []struct {
		name string
		op   func(l *Ledger) error
		err  error
	}{
		{"settle missing", func(l *Ledger) error { return l.Settle(missing, pre, Outbound) }, ErrNotFound},
		{"fail missing", func(l *Ledger) error { return l.Fail(missing, Inbound) }, ErrNotFound},
		{"settle pending", func(l *Ledger) error { return l.Settle(h, pre, Outbound) }, nil},
		{"settle twice", func(l *Ledger) error {
			_ = l.Settle(h, pre, Outbound)
			return l.Settle(h, pre, Outbound)
		}, ErrResolved},
		{"fail settled", func(l *Ledger) error {
			_ = l.Settle(h, pre, Outbound)
			return l.Fail(h, Outbound)
		}, ErrResolved},
		{"settle failed", func(l *Ledger) error {
			_ = l.Fail(h, Outbound)
			return l.Settle(h, pre, Outbound)
		}, ErrResolved},
		{"wrong direction", func(l *Ledger) error { return l.Fail(h, Inbound) }, ErrNotFound},
		{"duplicate insert", func(l *Ledger) error { return l.RecordOutbound(h, nil, nil) }, ErrDuplicate},
	}
	for _, c := range cases {
		l := New()
		require.NoError(t, l.RecordOutbound(h, nil, nil))

		if err := c.op(l); !errors.Is(err, c.err) {
			t.Errorf("%s: expected %v got %v", c.name, c.err, err)
		}
	}
}

func TestSettleStoresPreimage(t *testing.T) {
	pre, h := hashOf(3)
	amt := uint64(5000)
	secret := &Secret{9}

	l := New()
	require.NoError(t, l.RecordInbound(h, secret, &amt))
	require.NoError(t, l.Settle(h, pre, Inbound))

	r, ok := l.Get(Inbound, h)
	require.True(t, ok)
	assert.Equal(t, Succeeded, r.Status)
	assert.Equal(t, pre, *r.Preimage)
	assert.Equal(t, secret, r.Secret)
	assert.Equal(t, amt, *r.AmountMsat)

	_, ok = l.Get(Outbound, h)
	assert.False(t, ok)
}

func TestDuplicateKeepsRecord(t *testing.T) {
	_, h := hashOf(4)
	amt, other := uint64(1), uint64(2)

	l := New()
	require.NoError(t, l.RecordInbound(h, nil, &amt))
	require.ErrorIs(t, l.RecordInbound(h, nil, &other), ErrDuplicate)

	r, _ := l.Get(Inbound, h)
	assert.Equal(t, amt, *r.AmountMsat)
	assert.Equal(t, Pending, r.Status)
}

// Concurrent settles and fails of one hash apply exactly one transition.
func TestAtMostOnce(t *testing.T) {
	pre, h := hashOf(5)
	ms := &memStore{}

	var notified atomic.Int32

	l := New(WithPersister(ms), WithNotify(func(Entry) { notified.Add(1) }))
	require.NoError(t, l.RecordOutbound(h, nil, nil))

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			var err error
			if i%2 == 0 {
				err = l.Settle(h, pre, Outbound)
			} else {
				err = l.Fail(h, Outbound)
			}

			if err == nil {
				ok.Add(1)
			} else if !errors.Is(err, ErrResolved) {
				t.Errorf("unexpected error %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 2, notified.Load()) // insert and one transition
	assert.Len(t, ms.saved, 2)
}

func TestDispatchOutbound(t *testing.T) {
	_, h := hashOf(6)
	ms := &memStore{}
	l := New(WithPersister(ms))

	sendErr := errors.New("no route")
	err := l.DispatchOutbound(h, nil, nil, func() error {
		// reserved while the payment is being sent
		r, ok := l.Get(Outbound, h)
		assert.True(t, ok)
		assert.Equal(t, Pending, r.Status)

		return sendErr
	})
	require.ErrorIs(t, err, sendErr)

	_, ok := l.Get(Outbound, h)
	assert.False(t, ok, "failed dispatch must not insert")
	assert.Empty(t, ms.saved)

	calls := 0
	send := func() error {
		calls++
		// the engine reports the outcome before send returns
		return l.Fail(h, Outbound)
	}

	require.NoError(t, l.DispatchOutbound(h, nil, nil, send))
	require.ErrorIs(t, l.DispatchOutbound(h, nil, nil, send), ErrDuplicate)
	assert.Equal(t, 1, calls)

	r, _ := l.Get(Outbound, h)
	assert.Equal(t, Failed, r.Status)
	// the Pending reservation is never saved over the outcome
	require.Len(t, ms.saved, 1)
	assert.Equal(t, "failed", ms.saved[0].Status)

	_, h2 := hashOf(60)
	require.NoError(t, l.DispatchOutbound(h2, nil, nil, func() error { return nil }))
	require.Len(t, ms.saved, 2)
	assert.Equal(t, "pending", ms.saved[1].Status)
}

// ledgerReader reads the ledger from inside SavePayment.
type ledgerReader struct {
	l     *Ledger
	mu    sync.Mutex
	saved []string
}

func (r *ledgerReader) SavePayment(p store.Payment) error {
	_, _ = r.l.Get(Outbound, lntypes.Hash{}) // would block while the table lock is held
	for range r.l.SnapshotAll() {
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.saved = append(r.saved, p.Status)

	return nil
}

func TestPersistOutsideLock(t *testing.T) {
	pre, h := hashOf(61)
	r := &ledgerReader{}

	var notified []Status

	l := New(WithPersister(r), WithNotify(func(e Entry) { notified = append(notified, e.Status) }))
	r.l = l

	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = l.RecordOutbound(h, nil, nil)
		_ = l.Settle(h, pre, Outbound)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("persister reading the ledger blocked the transition")
	}

	assert.Equal(t, []string{"pending", "succeeded"}, r.saved)
	assert.Equal(t, []Status{Pending, Succeeded}, notified)
}

func TestResolve(t *testing.T) {
	pre, h := hashOf(7)
	amt := uint64(42)
	secret := &Secret{1}

	l := New()
	// no prior record: inserted in its resulting state
	require.NoError(t, l.Resolve(Inbound, h, Record{Preimage: &pre, Status: Succeeded, AmountMsat: &amt}))

	r, _ := l.Get(Inbound, h)
	assert.Equal(t, Succeeded, r.Status)
	require.ErrorIs(t, l.Resolve(Inbound, h, Record{Status: Failed}), ErrResolved)

	// prior pending record keeps its secret and amount
	_, h2 := hashOf(8)
	require.NoError(t, l.RecordInbound(h2, secret, &amt))
	require.NoError(t, l.Resolve(Inbound, h2, Record{Status: Failed}))

	r, _ = l.Get(Inbound, h2)
	assert.Equal(t, Failed, r.Status)
	assert.Equal(t, secret, r.Secret)
	assert.Equal(t, amt, *r.AmountMsat)
}

func TestSnapshotAll(t *testing.T) {
	l := New()

	for i := byte(0); i < 10; i++ {
		_, h := hashOf(i)
		require.NoError(t, l.RecordInbound(h, nil, nil))

		if i%2 == 0 {
			require.NoError(t, l.RecordOutbound(h, nil, nil))
		}
	}

	seq := l.SnapshotAll()

	count := func() (in, out int) {
		for e := range seq {
			if e.Direction == Inbound {
				in++
			} else {
				out++
			}
		}

		return
	}

	in, out := count()
	assert.Equal(t, 10, in)
	assert.Equal(t, 5, out)

	// restartable and fresh
	_, h := hashOf(100)
	require.NoError(t, l.RecordOutbound(h, nil, nil))

	in, out = count()
	assert.Equal(t, 10, in)
	assert.Equal(t, 6, out)

	// early stop
	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestPersistFailureKeepsTransition(t *testing.T) {
	pre, h := hashOf(9)
	ms := &memStore{err: errors.New("disk full")}

	l := New(WithPersister(ms))
	require.NoError(t, l.RecordOutbound(h, nil, nil))
	require.NoError(t, l.Settle(h, pre, Outbound))

	r, _ := l.Get(Outbound, h)
	assert.Equal(t, Succeeded, r.Status)
}

func TestLoad(t *testing.T) {
	pre, h := hashOf(10)
	amt := uint64(7)
	secret := &Secret{2}

	src := New()
	require.NoError(t, src.RecordInbound(h, secret, &amt))
	require.NoError(t, src.Settle(h, pre, Inbound))

	var saved []store.Payment
	for e := range src.SnapshotAll() {
		saved = append(saved, ToStore(e))
	}

	saved = append(saved, store.Payment{Hash: "zz", Direction: "inbound", Status: "pending"})

	ms := &memStore{}
	dst := New(WithPersister(ms))
	err := dst.Load(saved)
	require.ErrorIs(t, err, ErrBadPayment)
	assert.Empty(t, ms.saved, "load must not persist again")

	r, ok := dst.Get(Inbound, h)
	require.True(t, ok)
	assert.Equal(t, Succeeded, r.Status)
	assert.Equal(t, pre, *r.Preimage)
	assert.Equal(t, *secret, *r.Secret)
	assert.Equal(t, amt, *r.AmountMsat)
}
