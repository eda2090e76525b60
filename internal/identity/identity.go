package identity

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// SearchMode selects which persisted column a lookup matches on.
type SearchMode int

const (
	// ByStableID matches the stable identity column.
	ByStableID SearchMode = iota + 1
	// ByDisplayName matches the display name column.
	ByDisplayName
)

// String returns the mode name used in logs and traces.
func (m SearchMode) String() string {
	switch m {
	case ByStableID:
		return "stable_id"
	case ByDisplayName:
		return "display_name"
	default:
		return fmt.Sprintf("SearchMode(%d)", int(m))
	}
}

// Key is a storage lookup key: a value plus the column kind it matches.
type Key struct {
	Value string
	Mode  SearchMode
}

// StableKey returns a key matching on the stable identity.
func StableKey(stableID string) Key {
	return Key{Value: stableID, Mode: ByStableID}
}

// NameKey returns a key matching on the display name.
// The name is normalized.
func NameKey(displayName string) Key {
	return Key{Value: Normalize(displayName), Mode: ByDisplayName}
}

// Valid reports whether the key has a value and a known mode.
func (k Key) Valid() bool {
	return k.Value != "" && (k.Mode == ByStableID || k.Mode == ByDisplayName)
}

func (k Key) String() string {
	return k.Mode.String() + ":" + k.Value
}

// Identity binds a stable identity to a display identity.
type Identity struct {
	StableID    string
	DisplayName string
}

// New builds an Identity from a stable ID candidate and a display name.
// An empty candidate yields a placeholder identity.
func New(stableID, displayName string) Identity {
	name := Normalize(displayName)
	stableID = strings.TrimSpace(stableID)
	if stableID == "" {
		stableID = name
	}
	return Identity{StableID: stableID, DisplayName: name}
}

// Placeholder returns the identity used before the stable ID is known.
func Placeholder(displayName string) Identity {
	name := Normalize(displayName)
	return Identity{StableID: name, DisplayName: name}
}

// FixPending reports whether the identity still uses the placeholder key.
func (id Identity) FixPending() bool {
	return id.StableID == id.DisplayName
}

// EffectiveKey returns the key storage must match this identity on:
// the display name while fix pending, the stable ID otherwise.
func (id Identity) EffectiveKey() Key {
	if id.FixPending() {
		return Key{Value: id.DisplayName, Mode: ByDisplayName}
	}
	return StableKey(id.StableID)
}

// WithStableID returns a copy of id re-keyed to stableID.
func (id Identity) WithStableID(stableID string) Identity {
	return Identity{StableID: strings.TrimSpace(stableID), DisplayName: id.DisplayName}
}

func (id Identity) String() string {
	if id.FixPending() {
		return id.DisplayName + " (unfixed)"
	}
	return id.DisplayName + " (" + id.StableID + ")"
}

// Normalize canonicalizes a display name: surrounding space trimmed, NFC
// normalized, case folded.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	// Caser is stateful; one per call.
	return cases.Fold().String(norm.NFC.String(name))
}
