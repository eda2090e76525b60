// Package host adapts player connect and disconnect notifications to the
// session registry, and exposes a line console that drives both for
// operators and scenario tests.
package host

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/roach88/coffer/internal/account"
	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/queryir"
	"github.com/roach88/coffer/internal/scoreboard"
	"github.com/roach88/coffer/internal/session"
)

// ErrNoName is reported when a player connects without a display name.
var ErrNoName = errors.New("display name is required")

// Host owns the connect/disconnect lifecycle of sessions.
// Methods must be called on the engine loop.
type Host struct {
	registry *session.Registry
	accounts *account.Manager
	board    *scoreboard.Addon
}

// Option configures a Host.
type Option func(*Host)

// WithScoreboard notifies board of connects and disconnects.
func WithScoreboard(board *scoreboard.Addon) Option {
	return func(h *Host) {
		h.board = board
	}
}

// New creates a Host.
func New(registry *session.Registry, accounts *account.Manager, opts ...Option) *Host {
	h := &Host{registry: registry, accounts: accounts}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the registry sessions are kept in.
func (h *Host) Registry() *session.Registry { return h.registry }

// Accounts returns the account façade.
func (h *Host) Accounts() *account.Manager { return h.accounts }

// Connect establishes the session of a joining player and calls done with
// it once it is registered.
//
// A live session is reused. Otherwise the stored row is read by stable ID,
// then by display name. A row still keyed by the display name loads a
// session pending a fix, and the fix to stableID is dispatched right away.
// No row at all creates a new session at the default balance; it is
// written on its first save.
func (h *Host) Connect(stableID, displayName string, done func(*session.Session, error)) {
	id := identity.New(stableID, displayName)
	if id.DisplayName == "" {
		finish(done, nil, ErrNoName)
		return
	}
	stableID = strings.TrimSpace(stableID)

	if s := h.registry.Lookup(stableID, id.DisplayName); s != nil {
		h.joined(s, stableID, done)
		return
	}

	byName := func() {
		h.accounts.GetAccount(identity.NameKey(id.DisplayName), func(row *queryir.Row, err error) {
			if err != nil {
				finish(done, nil, err)
				return
			}
			if row != nil && row.Identity().FixPending() {
				h.load(stableID, id.DisplayName, row, done)
				return
			}
			if row != nil && stableID == "" {
				// Name already bound to a stable ID; adopt it.
				h.load(row.StableID, id.DisplayName, row, done)
				return
			}
			h.load(stableID, id.DisplayName, nil, done)
		})
	}

	if stableID == "" {
		byName()
		return
	}
	h.accounts.GetAccount(identity.StableKey(stableID), func(row *queryir.Row, err error) {
		if err != nil {
			finish(done, nil, err)
			return
		}
		if row == nil {
			byName()
			return
		}
		h.load(stableID, id.DisplayName, row, done)
	})
}

// load registers the session for a row read from storage (nil for none).
// A session registered while the read was in flight wins.
func (h *Host) load(stableID, displayName string, row *queryir.Row, done func(*session.Session, error)) {
	if s := h.registry.Lookup(stableID, displayName); s != nil {
		h.joined(s, stableID, done)
		return
	}

	var s *session.Session
	switch {
	case row == nil:
		s = h.registry.Create(stableID, displayName, nil)
	case row.Identity().FixPending():
		s = h.registry.Restore("", displayName, row.Balance, row.LastUpdate)
	default:
		s = h.registry.Restore(row.StableID, displayName, row.Balance, row.LastUpdate)
	}
	slog.Debug("session loaded", "stable_id", s.StableID(), "display_name", s.DisplayName(), "stored", row != nil)
	h.joined(s, stableID, done)
}

func (h *Host) joined(s *session.Session, stableID string, done func(*session.Session, error)) {
	if s.FixPending() && stableID != "" {
		s.AttemptFix(stableID)
	}
	if h.board != nil {
		h.board.Connect(s.DisplayName())
	}
	finish(done, s, nil)
}

// Disconnect saves the player's session one last time and unregisters it.
// Returns false if the player had no session.
func (h *Host) Disconnect(stableID, displayName string) bool {
	stableID = strings.TrimSpace(stableID)
	s := h.registry.Lookup(stableID, displayName)
	if s == nil && stableID == "" {
		s = h.registry.Resolve(identity.NameKey(displayName))
	}
	if s == nil {
		return false
	}
	s.OnSave()
	h.registry.Remove(s.StableID())
	if h.board != nil {
		h.board.Disconnect(s.DisplayName())
	}
	slog.Debug("session closed", "stable_id", s.StableID(), "display_name", s.DisplayName())
	return true
}

func finish(done func(*session.Session, error), s *session.Session, err error) {
	if done != nil {
		done(s, err)
	}
}
