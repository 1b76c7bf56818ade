package appservice

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultTxnTTL is how long a processed transaction id is remembered.
	DefaultTxnTTL = time.Hour
	// DefaultTxnCapacity bounds the number of remembered transaction ids.
	DefaultTxnCapacity = 10000

	txnCleanupFreq = 100
)

// ErrTrackerFull is returned by TxnTracker.Put when no expired entry can be evicted.
var ErrTrackerFull = errors.New("transaction tracker at capacity")

// TxnState is the result of TxnTracker.Begin.
type TxnState int

const (
	// TxnNew means the caller now owns the transaction and must Put or Release it.
	TxnNew TxnState = iota
	// TxnDone means the transaction was processed within the TTL.
	TxnDone
	// TxnInFlight means another request is processing the transaction.
	TxnInFlight
)

// TxnTracker remembers recently processed transaction ids so homeserver retries are
// acknowledged without being replayed.
type TxnTracker struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	inFlight   map[string]struct{}
	ttl        time.Duration
	capacity   int
	putCounter int
	now        func() time.Time
}

func NewTxnTracker(ttl time.Duration, capacity int) *TxnTracker {
	return &TxnTracker{
		entries:  make(map[string]time.Time),
		inFlight: make(map[string]struct{}),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Seen reports whether txnID was processed within the TTL.
func (t *TxnTracker) Seen(txnID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen(txnID)
}

func (t *TxnTracker) seen(txnID string) bool {
	at, ok := t.entries[txnID]
	return ok && t.now().Sub(at) < t.ttl
}

// Begin atomically checks txnID and, when it is new, reserves it for the caller.
func (t *TxnTracker) Begin(txnID string) TxnState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seen(txnID) {
		return TxnDone
	}
	if _, ok := t.inFlight[txnID]; ok {
		return TxnInFlight
	}
	t.inFlight[txnID] = struct{}{}
	return TxnNew
}

// Release drops a reservation taken by Begin without marking txnID processed.
func (t *TxnTracker) Release(txnID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, txnID)
}

// Put records txnID as processed now and drops any reservation on it.
func (t *TxnTracker) Put(txnID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.inFlight, txnID)

	if _, ok := t.entries[txnID]; !ok && len(t.entries) >= t.capacity {
		t.cleanup()
		if len(t.entries) >= t.capacity {
			return ErrTrackerFull
		}
	}

	t.entries[txnID] = t.now()
	t.putCounter++
	if t.putCounter%txnCleanupFreq == 0 {
		t.cleanup()
	}
	return nil
}

// cleanup drops expired entries. Callers hold mu.
func (t *TxnTracker) cleanup() {
	cutoff := t.now().Add(-t.ttl)
	for txnID, at := range t.entries {
		if !at.After(cutoff) {
			delete(t.entries, txnID)
		}
	}
	t.putCounter = 0
}

func (t *TxnTracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
