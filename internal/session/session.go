package session

import (
	"log/slog"
	"strings"

	"github.com/roach88/coffer/internal/engine"
	"github.com/roach88/coffer/internal/event"
	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/queryir"
	"github.com/roach88/coffer/internal/txn"
)

// Session binds one player's identity to its cached balance.
// Sessions are created and owned by a Registry; callers only borrow them
// for the duration of a loop task.
type Session struct {
	registry *Registry
	id       identity.Identity
	cache    Cache
	fixing   bool
}

// Identity returns the session's identity pair.
func (s *Session) Identity() identity.Identity { return s.id }

// StableID returns the key the session is registered under.
func (s *Session) StableID() string { return s.id.StableID }

// DisplayName returns the normalized display name.
func (s *Session) DisplayName() string { return s.id.DisplayName }

// FixPending reports whether the stored row is still keyed by the display
// name.
func (s *Session) FixPending() bool { return s.id.FixPending() }

// Cache exposes the session's cache state for reading.
func (s *Session) Cache() *Cache { return &s.cache }

// Balance returns the cached balance.
func (s *Session) Balance() int64 { return s.cache.balance }

// SetBalance replaces the cached balance and marks the session dirty.
func (s *Session) SetBalance(balance int64) {
	s.cache.set(balance)
}

// AddBalance adds amount to the cached balance and marks the session dirty.
func (s *Session) AddBalance(amount int64) {
	s.cache.set(s.cache.balance + amount)
}

// SubtractBalance subtracts amount from the cached balance and marks the
// session dirty. The balance may go negative; guarding is the caller's job.
func (s *Session) SubtractBalance(amount int64) {
	s.cache.set(s.cache.balance - amount)
}

// OnSave persists the cached balance if the session is dirty.
//
// Returns false without dispatching when there is nothing to write, when a
// save is already in flight, or when a BalanceChange observer cancels. A
// new session is written with a create; an existing one with a save keyed
// by its effective key. Flags are cleared only when the write succeeds.
func (s *Session) OnSave() bool {
	c := &s.cache
	if !c.Dirty() || c.saving {
		return false
	}

	ev := &event.BalanceChange{Identity: s.id, Balance: c.balance}
	s.registry.bus.BalanceChange.Publish(ev)
	if ev.Cancelled() {
		slog.Debug("save cancelled", "stable_id", s.id.StableID)
		return false
	}

	at := s.registry.now()
	creating := c.isNew
	generation := c.generation

	var q queryir.Query
	if creating {
		q = queryir.CreateAccount{Identity: s.id, Balance: c.balance, At: at}
	} else {
		q = queryir.SaveBalance{Key: s.id.EffectiveKey(), Balance: c.balance, At: at}
	}

	c.saving = true
	s.registry.exec.Submit(q, func(res queryir.Result) {
		c.saving = false
		if !res.OK() {
			slog.Warn("save failed", "stable_id", s.id.StableID, "query", q.Kind(), "error", res.Err)
			return
		}
		c.lastUpdate = at
		if creating {
			c.isNew = false
		}
		if c.generation == generation {
			c.awaitingSave = false
		}
	})
	return true
}

// AttemptFix re-keys the stored row from the display name to stableID.
//
// When the fix lands the Registry replaces this session with one registered
// under stableID that carries the cached balance and flags, and no longer
// pending a fix. A fix that matched no row only re-keys a session whose row
// was never written; otherwise the session stays pending.
//
// Returns nil without dispatching if the session is not pending a fix, a fix
// or a save is already in flight, or stableID is unusable.
func (s *Session) AttemptFix(stableID string) *engine.Handle {
	stableID = strings.TrimSpace(stableID)
	if !s.FixPending() || s.fixing || s.cache.saving || stableID == "" || stableID == s.id.DisplayName {
		return nil
	}

	s.fixing = true
	q := queryir.FixIdentity{DisplayName: s.id.DisplayName, StableID: stableID}
	return s.registry.exec.Submit(q, func(res queryir.Result) {
		s.fixing = false
		if !res.OK() {
			slog.Warn("identity fix failed", "display_name", s.id.DisplayName, "stable_id", stableID, "error", res.Err)
			return
		}
		if res.Affected == 0 && (s.cache.saving || !s.cache.isNew) {
			// The row is being created under the display name, or is gone.
			slog.Warn("identity fix matched no row", "display_name", s.id.DisplayName, "stable_id", stableID)
			return
		}
		if s.registry.rekey(s, stableID, res.Affected > 0) == nil {
			slog.Debug("identity fixed for departed session", "display_name", s.id.DisplayName, "stable_id", stableID)
			return
		}
		slog.Info("identity fixed", "display_name", s.id.DisplayName, "stable_id", stableID)
	})
}

// applyStored mirrors a write storage already applied. It does not mark the
// session dirty, except when a save is in flight: that save carries the
// pre-write balance and may land after the write.
func (s *Session) applyStored(w txn.Write) {
	c := &s.cache
	c.balance = w.Apply(c.balance)
	if c.saving {
		c.awaitingSave = true
		c.generation++
	}
}
