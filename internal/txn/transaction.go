// Package txn defines balance-mutating operations and the ledger that keeps
// the same operation instance from being dispatched twice.
package txn

import (
	"fmt"

	"github.com/roach88/coffer/internal/identity"
)

// Transaction is a sealed interface over the balance operations.
// Only *Set, *Add, *Subtract and *Transfer implement it. Operations are
// compared by instance: two structurally equal transactions are distinct.
type Transaction interface {
	transaction() // Sealed
	amount() int64
	fmt.Stringer
}

// Set replaces the target balance.
type Set struct {
	Target identity.Key
	Amount int64
}

func (*Set) transaction() {}

func (t *Set) amount() int64 { return t.Amount }

func (t *Set) String() string { return fmt.Sprintf("set %s %d", t.Target, t.Amount) }

// Add increases the target balance.
type Add struct {
	Target identity.Key
	Amount int64
}

func (*Add) transaction() {}

func (t *Add) amount() int64 { return t.Amount }

func (t *Add) String() string { return fmt.Sprintf("add %s %d", t.Target, t.Amount) }

// Subtract decreases the target balance.
type Subtract struct {
	Target identity.Key
	Amount int64
}

func (*Subtract) transaction() {}

func (t *Subtract) amount() int64 { return t.Amount }

func (t *Subtract) String() string { return fmt.Sprintf("subtract %s %d", t.Target, t.Amount) }

// Transfer moves Amount from Sender to Receiver as two independent writes.
// There is no atomicity across the two.
type Transfer struct {
	Sender   identity.Key
	Receiver identity.Key
	Amount   int64
}

func (*Transfer) transaction() {}

func (t *Transfer) amount() int64 { return t.Amount }

func (t *Transfer) String() string {
	return fmt.Sprintf("transfer %s -> %s %d", t.Sender, t.Receiver, t.Amount)
}

// WriteKind is how a single-identity write changes the stored balance.
type WriteKind int

const (
	// WriteSet stores Amount as the new balance.
	WriteSet WriteKind = iota + 1
	// WriteDelta adds Amount (possibly negative) to the stored balance.
	WriteDelta
)

func (k WriteKind) String() string {
	switch k {
	case WriteSet:
		return "set"
	case WriteDelta:
		return "delta"
	default:
		return fmt.Sprintf("WriteKind(%d)", int(k))
	}
}

// Write is one single-identity balance write.
type Write struct {
	Target identity.Key
	Kind   WriteKind
	Amount int64
}

// Apply returns the balance after applying the write to balance.
func (w Write) Apply(balance int64) int64 {
	if w.Kind == WriteSet {
		return w.Amount
	}
	return balance + w.Amount
}

// Writes decomposes a transaction into its single-identity writes.
// This is the only place that branches on the transaction variant.
func Writes(tx Transaction) []Write {
	switch t := tx.(type) {
	case *Set:
		return []Write{{Target: t.Target, Kind: WriteSet, Amount: t.Amount}}
	case *Add:
		return []Write{{Target: t.Target, Kind: WriteDelta, Amount: t.Amount}}
	case *Subtract:
		return []Write{{Target: t.Target, Kind: WriteDelta, Amount: -t.Amount}}
	case *Transfer:
		return []Write{
			{Target: t.Sender, Kind: WriteDelta, Amount: -t.Amount},
			{Target: t.Receiver, Kind: WriteDelta, Amount: t.Amount},
		}
	default:
		panic(fmt.Sprintf("txn: unknown transaction type %T", tx))
	}
}

// Validate checks amounts and keys.
func Validate(tx Transaction) error {
	if tx == nil {
		return fmt.Errorf("nil transaction")
	}
	if tx.amount() < 0 {
		return fmt.Errorf("%s: negative amount", tx)
	}
	seen := make(map[identity.Key]bool)
	for _, w := range Writes(tx) {
		if !w.Target.Valid() {
			return fmt.Errorf("%s: invalid target %q", tx, w.Target)
		}
		if seen[w.Target] {
			return fmt.Errorf("%s: target appears twice", tx)
		}
		seen[w.Target] = true
	}
	return nil
}
