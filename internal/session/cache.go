package session

import "time"

// Cache is a session's mutable balance state.
type Cache struct {
	balance      int64
	lastUpdate   time.Time
	isNew        bool
	awaitingSave bool

	// generation counts balance mutations. A save completion only clears
	// awaitingSave if no mutation happened while it was in flight.
	generation uint64
	// saving is set while a save query is in flight.
	saving bool
}

func newCache(balance int64, isNew bool, now time.Time) Cache {
	return Cache{
		balance:    balance,
		lastUpdate: now,
		isNew:      isNew,
	}
}

// Balance returns the cached balance.
func (c *Cache) Balance() int64 { return c.balance }

// LastUpdate returns when the balance was last persisted, or the stored
// row's time for a session loaded from storage.
func (c *Cache) LastUpdate() time.Time { return c.lastUpdate }

// IsNew reports whether the account row has not been created yet.
func (c *Cache) IsNew() bool { return c.isNew }

// AwaitingSave reports whether the balance changed since the last save.
func (c *Cache) AwaitingSave() bool { return c.awaitingSave }

// Saving reports whether a save is in flight.
func (c *Cache) Saving() bool { return c.saving }

// Dirty reports whether a flush has anything to write.
func (c *Cache) Dirty() bool { return c.isNew || c.awaitingSave }

func (c *Cache) set(balance int64) {
	c.balance = balance
	c.awaitingSave = true
	c.generation++
}
