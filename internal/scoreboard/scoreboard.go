// Package scoreboard resolves the balance tag shown on player scoreboards.
//
// Balances of online players are cached so tag resolution never waits on
// storage. The cache is filled on connect, refreshed whenever a transaction
// or a session save touches the player, and dropped on disconnect. Entries
// never expire while the player is tracked; one older than the TTL is served
// as is and re-read from storage in the background.
package scoreboard

import (
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/roach88/coffer/internal/currency"
	"github.com/roach88/coffer/internal/engine"
	"github.com/roach88/coffer/internal/event"
	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/queryir"
)

// TagBalance is the scoreboard tag this addon resolves.
const TagBalance = "coffer.balance"

// Unknown is shown while a balance is not known.
const Unknown = "N/A"

// DefaultTTL is how long an entry is served before it is re-read.
const DefaultTTL = 30 * time.Minute

// Accounts reads stored rows. Implemented by *account.Manager.
type Accounts interface {
	GetAccount(key identity.Key, done func(*queryir.Row, error)) *engine.Handle
}

type entry struct {
	known   bool
	balance int64
	at      time.Time
}

// Addon caches display balances per online player.
type Addon struct {
	cache    *cache.Cache
	accounts Accounts
	policy   currency.Policy
	ttl      time.Duration
}

// New creates an Addon. A non-positive ttl uses DefaultTTL.
func New(accounts Accounts, policy currency.Policy, ttl time.Duration) *Addon {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Addon{
		cache:    cache.New(cache.NoExpiration, 0),
		accounts: accounts,
		policy:   policy,
		ttl:      ttl,
	}
}

// Attach subscribes the addon to balance notifications on bus.
// Returns a function that detaches it.
func (a *Addon) Attach(bus *event.Bus) (detach func()) {
	stopTx := bus.TransactionProcessed.Subscribe(func(e *event.TransactionProcessed) {
		for _, w := range e.Applied {
			a.refresh(w.Target)
		}
	})
	stopSave := bus.BalanceChange.Subscribe(func(e *event.BalanceChange) {
		if e.Cancelled() {
			return
		}
		a.update(e.Identity.DisplayName, e.Balance)
	})
	return func() {
		stopTx()
		stopSave()
	}
}

// Connect starts tracking the player and loads their stored balance.
func (a *Addon) Connect(displayName string) {
	name := identity.Normalize(displayName)
	if name == "" {
		return
	}
	a.cache.Set(name, entry{}, cache.NoExpiration)
	a.refresh(identity.NameKey(name))
}

// Disconnect stops tracking the player.
func (a *Addon) Disconnect(displayName string) {
	a.cache.Delete(identity.Normalize(displayName))
}

// Balance returns the cached balance, if known.
func (a *Addon) Balance(displayName string) (int64, bool) {
	v, ok := a.cache.Get(identity.Normalize(displayName))
	if !ok {
		return 0, false
	}
	e := v.(entry)
	return e.balance, e.known
}

// Resolve returns the value of tag for the player. ok is false for tags
// this addon does not own. A stale balance is returned and refreshed.
func (a *Addon) Resolve(displayName, tag string) (value string, ok bool) {
	switch tag {
	case TagBalance:
		name := identity.Normalize(displayName)
		v, found := a.cache.Get(name)
		if !found || !v.(entry).known {
			return Unknown, true
		}
		e := v.(entry)
		if time.Since(e.at) > a.ttl {
			// Re-stamped so repeated reads issue one refresh.
			a.update(name, e.balance)
			a.refresh(identity.NameKey(name))
		}
		return a.policy.Format(e.balance), true
	default:
		return "", false
	}
}

// Tracked returns the number of tracked players.
func (a *Addon) Tracked() int {
	return a.cache.ItemCount()
}

// refresh re-reads key from storage and updates the entry of the row's
// player if they are tracked.
func (a *Addon) refresh(key identity.Key) {
	a.accounts.GetAccount(key, func(row *queryir.Row, err error) {
		if err != nil {
			slog.Debug("scoreboard refresh failed", "key", key.String(), "error", err)
			return
		}
		if row == nil {
			return
		}
		a.update(row.DisplayName, row.Balance)
	})
}

// update replaces a tracked player's entry. Untracked players are ignored.
func (a *Addon) update(name string, balance int64) {
	_ = a.cache.Replace(name, entry{known: true, balance: balance, at: time.Now()}, cache.NoExpiration)
}
