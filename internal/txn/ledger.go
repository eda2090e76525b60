package txn

import (
	"sync"

	"github.com/oklog/ulid/v2"
)

// Ticket is the opaque receipt for a transaction tracked by a Ledger.
// Tickets compare by identity; a ticket is valid for exactly one Remove.
type Ticket struct {
	id ulid.ULID
	tx Transaction
}

// ID returns the ticket's sortable identifier, for logs.
func (t *Ticket) ID() string {
	return t.id.String()
}

// Transaction returns the tracked transaction.
func (t *Ticket) Transaction() Transaction {
	return t.tx
}

// Ledger tracks in-flight balance-mutating transactions by instance.
//
// Adding the same instance twice fails until its ticket is removed. Distinct
// instances never block each other, even when structurally identical or
// aimed at the same identity: the ledger deduplicates resubmission, it does
// not serialize writes per identity.
//
// Thread-safety: all methods are safe for concurrent use, although the
// account manager only calls them from the event loop.
type Ledger struct {
	mu       sync.Mutex
	inFlight map[Transaction]*Ticket
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{inFlight: make(map[Transaction]*Ticket)}
}

// Add starts tracking tx. Returns (nil, false) if this instance is already
// tracked.
func (l *Ledger) Add(tx Transaction) (*Ticket, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.inFlight[tx]; ok {
		return nil, false
	}
	t := &Ticket{id: ulid.Make(), tx: tx}
	l.inFlight[tx] = t
	return t, true
}

// Remove stops tracking the ticket's transaction.
// Returns false for a nil, stale or foreign ticket.
func (l *Ledger) Remove(t *Ticket) bool {
	if t == nil {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight[t.tx] != t {
		return false
	}
	delete(l.inFlight, t.tx)
	return true
}

// Contains reports whether this transaction instance is in flight.
func (l *Ledger) Contains(tx Transaction) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.inFlight[tx]
	return ok
}

// Len returns the number of transactions in flight.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inFlight)
}
