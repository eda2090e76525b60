package session

import (
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/coffer/internal/currency"
	"github.com/roach88/coffer/internal/engine"
	"github.com/roach88/coffer/internal/event"
	"github.com/roach88/coffer/internal/identity"
)

// Registry owns every live Session, keyed by stable ID.
//
// Sessions pending an identity fix are also indexed by display name. The
// index entry is dropped in the same critical section that swaps the fixed
// session in, so no lookup sees the player under both keys or under
// neither.
//
// Mutating methods are meant for the engine loop; the lock lets other
// goroutines (status endpoints, the console) read safely.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byName   map[string]*Session

	exec   engine.Executor
	bus    *event.Bus
	policy currency.Policy
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the wall clock used for last-update stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry. Saves and fixes are dispatched on
// exec; BalanceChange is published on bus; policy supplies the default
// balance.
func NewRegistry(exec engine.Executor, bus *event.Bus, policy currency.Policy, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		byName:   make(map[string]*Session),
		exec:     exec,
		bus:      bus,
		policy:   policy,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a session for the player, replacing any session already
// registered under the same stable ID.
//
// A nil balance means the player has no stored row: the session starts at
// the policy's default balance and is new. An empty stable ID creates a
// placeholder session keyed by the display name. Returns nil if the display
// name is empty.
func (r *Registry) Create(stableID, displayName string, balance *int64) *Session {
	id := identity.New(stableID, displayName)
	if id.DisplayName == "" {
		return nil
	}

	return r.register(id, newCache(r.policy.Resolve(balance), balance == nil, r.now()))
}

// Restore registers a session for a stored row, keeping the row's last
// update. A zero lastUpdate means now. Otherwise it behaves like Create
// with a non-nil balance.
func (r *Registry) Restore(stableID, displayName string, balance int64, lastUpdate time.Time) *Session {
	id := identity.New(stableID, displayName)
	if id.DisplayName == "" {
		return nil
	}
	if lastUpdate.IsZero() {
		lastUpdate = r.now()
	}
	return r.register(id, newCache(balance, false, lastUpdate))
}

func (r *Registry) register(id identity.Identity, c Cache) *Session {
	s := &Session{
		registry: r,
		id:       id,
		cache:    c,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := r.sessions[id.StableID]; prev != nil {
		r.unindex(prev)
	}
	r.sessions[id.StableID] = s
	if id.FixPending() {
		r.byName[id.DisplayName] = s
	}
	return s
}

// Get returns the session registered under stableID, or nil.
func (r *Registry) Get(stableID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[strings.TrimSpace(stableID)]
}

// GetByDisplayName returns the session pending a fix under name, or nil.
// Fixed sessions are not found by name.
func (r *Registry) GetByDisplayName(name string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[identity.Normalize(name)]
}

// Lookup tries the stable ID first and falls back to the display name.
func (r *Registry) Lookup(stableID, displayName string) *Session {
	if stableID != "" {
		if s := r.Get(stableID); s != nil {
			return s
		}
	}
	return r.GetByDisplayName(displayName)
}

// Resolve finds the live session a storage key refers to. Unlike
// GetByDisplayName, a display-name key also matches fixed sessions; if
// several match, the lowest stable ID wins.
func (r *Registry) Resolve(key identity.Key) *Session {
	switch key.Mode {
	case identity.ByStableID:
		return r.Get(key.Value)
	case identity.ByDisplayName:
		r.mu.RLock()
		defer r.mu.RUnlock()
		if s := r.byName[key.Value]; s != nil {
			return s
		}
		var found *Session
		for _, s := range r.sessions {
			if s.id.DisplayName == key.Value && (found == nil || s.id.StableID < found.id.StableID) {
				found = s
			}
		}
		return found
	default:
		return nil
	}
}

// Remove unregisters the session under stableID.
// Returns false if none was registered.
func (r *Registry) Remove(stableID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	stableID = strings.TrimSpace(stableID)
	s, ok := r.sessions[stableID]
	if !ok {
		return false
	}
	delete(r.sessions, stableID)
	r.unindex(s)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Filter selects sessions in All.
type Filter func(*Session) bool

// Dirty selects sessions with something to persist.
func Dirty(s *Session) bool { return s.cache.Dirty() }

// Any selects every session.
func Any(*Session) bool { return true }

// All returns the sessions matching filter (nil means every session), in
// stable ID order.
//
// The sequence is lazy and restartable: each iteration reads the live
// registry when it starts, and skips sessions removed or replaced before
// they are reached. The filter is evaluated as each session is reached.
func (r *Registry) All(filter Filter) iter.Seq[*Session] {
	if filter == nil {
		filter = Any
	}
	return func(yield func(*Session) bool) {
		for _, s := range r.snapshot() {
			if !r.live(s) || !filter(s) {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Session) int {
		return strings.Compare(a.id.StableID, b.id.StableID)
	})
	return out
}

func (r *Registry) live(s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[s.id.StableID] == s
}

// rekey swaps old for a fixed session under stableID. stored reports that
// the row now exists under stableID. Returns nil if old is no longer
// registered.
func (r *Registry) rekey(old *Session, stableID string, stored bool) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[old.id.StableID] != old {
		return nil
	}

	fixed := &Session{
		registry: r,
		id:       old.id.WithStableID(stableID),
		cache:    old.cache,
	}
	// The old session's in-flight save completes on the old session.
	fixed.cache.saving = false
	if stored {
		fixed.cache.isNew = false
	}

	delete(r.sessions, old.id.StableID)
	r.unindex(old)
	if prev := r.sessions[stableID]; prev != nil {
		r.unindex(prev)
	}
	r.sessions[stableID] = fixed
	return fixed
}

// unindex drops s from the display-name index. Caller holds mu.
func (r *Registry) unindex(s *Session) {
	if r.byName[s.id.DisplayName] == s {
		delete(r.byName, s.id.DisplayName)
	}
}
