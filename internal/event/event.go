package event

import (
	"sync"

	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/txn"
)

// Cancellable is embedded by notifications an observer may veto.
type Cancellable struct {
	cancelled bool
}

// Cancel vetoes the pending operation.
func (c *Cancellable) Cancel() { c.cancelled = true }

// Cancelled reports whether an observer vetoed the operation.
func (c *Cancellable) Cancelled() bool { return c.cancelled }

// AccountCreation fires before an account row is created. Observers may
// change Balance.
type AccountCreation struct {
	Cancellable
	Identity identity.Identity
	Balance  int64
}

// AccountDeletion fires before an account row is deleted.
type AccountDeletion struct {
	Cancellable
	Key identity.Key
}

// BalanceChange fires before a session persists its cached balance.
// Balance is the value about to be written.
type BalanceChange struct {
	Cancellable
	Identity identity.Identity
	Balance  int64
}

// TransactionProcessed fires once a balance update completes with at least
// one write applied. Applied lists the writes storage applied, in
// transaction order; a transfer whose other half failed carries only one.
type TransactionProcessed struct {
	Transaction txn.Transaction
	Applied     []txn.Write
}

// Topic fans one notification type out to its observers.
//
// The zero value is ready to use.
type Topic[E any] struct {
	mu       sync.RWMutex
	nextID   int
	handlers []handler[E]
}

type handler[E any] struct {
	id int
	fn func(E)
}

// Subscribe registers fn and returns a function that removes it.
func (t *Topic[E]) Subscribe(fn func(E)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.handlers = append(t.handlers, handler[E]{id: id, fn: fn})

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, h := range t.handlers {
			if h.id == id {
				t.handlers = append(t.handlers[:i:i], t.handlers[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers e to every observer in subscription order.
// Observers subscribed during delivery see the next Publish.
func (t *Topic[E]) Publish(e E) {
	t.mu.RLock()
	handlers := t.handlers
	t.mu.RUnlock()

	for _, h := range handlers {
		h.fn(e)
	}
}

// Len returns the number of observers.
func (t *Topic[E]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers)
}

// Bus groups the topics the core publishes on.
type Bus struct {
	AccountCreation      Topic[*AccountCreation]
	AccountDeletion      Topic[*AccountDeletion]
	BalanceChange        Topic[*BalanceChange]
	TransactionProcessed Topic[*TransactionProcessed]
}

// NewBus creates a bus with no observers.
func NewBus() *Bus {
	return &Bus{}
}
