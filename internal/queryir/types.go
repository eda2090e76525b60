package queryir

import (
	"time"

	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/txn"
)

// TablePlayers is the table holding one row per player.
const TablePlayers = "players"

// Kind names a query type in logs and traces.
type Kind string

const (
	KindCreate    Kind = "create"
	KindSelect    Kind = "select"
	KindWrite     Kind = "write"
	KindSave      Kind = "save"
	KindFix       Kind = "fix"
	KindSelectTop Kind = "select_top"
	KindDelete    Kind = "delete"
)

// Query is a storage request. Sealed to this package.
type Query interface {
	queryNode() // Marker method - seals interface to this package
	Kind() Kind
	Table() string
}

// CreateAccount inserts the row for a new player.
// An existing row with the same stable ID is left untouched.
type CreateAccount struct {
	Identity identity.Identity
	Balance  int64
	At       time.Time
}

func (CreateAccount) queryNode()    {}
func (CreateAccount) Kind() Kind    { return KindCreate }
func (CreateAccount) Table() string { return TablePlayers }

// SelectAccount reads the row matching Key.
type SelectAccount struct {
	Key identity.Key
}

func (SelectAccount) queryNode()    {}
func (SelectAccount) Kind() Kind    { return KindSelect }
func (SelectAccount) Table() string { return TablePlayers }

// WriteBalance applies one single-identity transaction write.
type WriteBalance struct {
	Write txn.Write
	At    time.Time
}

func (WriteBalance) queryNode()    {}
func (WriteBalance) Kind() Kind    { return KindWrite }
func (WriteBalance) Table() string { return TablePlayers }

// SaveBalance persists a cached balance as the absolute stored balance.
type SaveBalance struct {
	Key     identity.Key
	Balance int64
	At      time.Time
}

func (SaveBalance) queryNode()    {}
func (SaveBalance) Kind() Kind    { return KindSave }
func (SaveBalance) Table() string { return TablePlayers }

// FixIdentity re-keys a row stored under a placeholder (its display name)
// to the real stable ID.
type FixIdentity struct {
	DisplayName string
	StableID    string
}

func (FixIdentity) queryNode()    {}
func (FixIdentity) Kind() Kind    { return KindFix }
func (FixIdentity) Table() string { return TablePlayers }

// SelectTop reads the highest balances, descending. Ties keep storage's
// natural row order.
type SelectTop struct {
	Limit  int
	Offset int
}

func (SelectTop) queryNode()    {}
func (SelectTop) Kind() Kind    { return KindSelectTop }
func (SelectTop) Table() string { return TablePlayers }

// DeleteAccount removes the row matching Key.
type DeleteAccount struct {
	Key identity.Key
}

func (DeleteAccount) queryNode()    {}
func (DeleteAccount) Kind() Kind    { return KindDelete }
func (DeleteAccount) Table() string { return TablePlayers }

// Row is the persisted shape of a player.
type Row struct {
	StableID    string    `json:"stable_id"`
	DisplayName string    `json:"display_name"`
	Balance     int64     `json:"balance"`
	LastUpdate  time.Time `json:"last_update"`
}

// Identity returns the row's identity pair.
func (r Row) Identity() identity.Identity {
	return identity.Identity{StableID: r.StableID, DisplayName: r.DisplayName}
}

// Result is what a query completes with. Reads fill Rows; writes fill
// Affected. Err is set when storage failed; the other fields are then zero.
type Result struct {
	Rows     []Row
	Affected int64
	Err      error
}

// First returns the first row, if any.
func (r Result) First() (Row, bool) {
	if len(r.Rows) == 0 {
		return Row{}, false
	}
	return r.Rows[0], true
}

// OK reports whether the query succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}
