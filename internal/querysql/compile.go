// Package querysql compiles queryir account queries to parameterized SQL for
// SQLite.
//
// CRITICAL: values are never interpolated into SQL text; every value is a
// ? placeholder. Column names come only from the fixed column set below.
// CRITICAL: every multi-row read carries an ORDER BY with a rowid tiebreaker
// so results are deterministic.
package querysql

import (
	"fmt"

	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/queryir"
	"github.com/roach88/coffer/internal/txn"
)

// Column names of the players table.
const (
	ColumnStableID    = "xuid"
	ColumnDisplayName = "username"
	ColumnBalance     = "balance"
	ColumnLastUpdate  = "last_update"
)

// rowColumns is the SELECT list matching store's row scanner.
const rowColumns = ColumnStableID + ", " + ColumnDisplayName + ", " + ColumnBalance + ", " + ColumnLastUpdate

// SQLCompiler compiles queryir queries to SQL.
// It is stateless and safe for concurrent use.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a query to parameterized SQL.
// Returns (sql, params, error) tuple.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}

	switch query := q.(type) {
	case queryir.CreateAccount:
		return c.compileCreate(query)
	case queryir.SelectAccount:
		return c.compileSelect(query)
	case queryir.WriteBalance:
		return c.compileWrite(query)
	case queryir.SaveBalance:
		return c.compileSave(query)
	case queryir.FixIdentity:
		return c.compileFix(query)
	case queryir.SelectTop:
		return c.compileSelectTop(query)
	case queryir.DeleteAccount:
		return c.compileDelete(query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

// IsRead reports whether q returns rows.
func IsRead(q queryir.Query) bool {
	switch q.(type) {
	case queryir.SelectAccount, queryir.SelectTop:
		return true
	default:
		return false
	}
}

// compileCreate inserts a row; an existing stable ID is left untouched.
func (c *SQLCompiler) compileCreate(q queryir.CreateAccount) (string, []any, error) {
	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (?, ?, ?, ?) ON CONFLICT(%s) DO NOTHING",
		q.Table(), rowColumns, ColumnStableID,
	)
	params := []any{q.Identity.StableID, q.Identity.DisplayName, q.Balance, q.At.Unix()}
	return sql, params, nil
}

func (c *SQLCompiler) compileSelect(q queryir.SelectAccount) (string, []any, error) {
	where, param, err := keyPredicate(q.Key)
	if err != nil {
		return "", nil, err
	}
	// Display names are not unique; rowid breaks the tie deterministically.
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY rowid ASC LIMIT 1", rowColumns, q.Table(), where)
	return sql, []any{param}, nil
}

func (c *SQLCompiler) compileWrite(q queryir.WriteBalance) (string, []any, error) {
	where, param, err := keyPredicate(q.Write.Target)
	if err != nil {
		return "", nil, err
	}

	var set string
	switch q.Write.Kind {
	case txn.WriteSet:
		set = ColumnBalance + " = ?"
	case txn.WriteDelta:
		set = ColumnBalance + " = " + ColumnBalance + " + ?"
	default:
		return "", nil, fmt.Errorf("unsupported write kind: %s", q.Write.Kind)
	}

	sql := fmt.Sprintf("UPDATE %s SET %s, %s = ? WHERE %s", q.Table(), set, ColumnLastUpdate, where)
	return sql, []any{q.Write.Amount, q.At.Unix(), param}, nil
}

func (c *SQLCompiler) compileSave(q queryir.SaveBalance) (string, []any, error) {
	where, param, err := keyPredicate(q.Key)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("UPDATE %s SET %s = ?, %s = ? WHERE %s", q.Table(), ColumnBalance, ColumnLastUpdate, where)
	return sql, []any{q.Balance, q.At.Unix(), param}, nil
}

// compileFix re-keys only rows still stored under the placeholder.
func (c *SQLCompiler) compileFix(q queryir.FixIdentity) (string, []any, error) {
	sql := fmt.Sprintf(
		"UPDATE %s SET %s = ? WHERE %s = ? AND %s = %s",
		q.Table(), ColumnStableID, ColumnDisplayName, ColumnStableID, ColumnDisplayName,
	)
	return sql, []any{q.StableID, q.DisplayName}, nil
}

// compileSelectTop orders by balance descending; rowid keeps ties in
// insertion order.
func (c *SQLCompiler) compileSelectTop(q queryir.SelectTop) (string, []any, error) {
	sql := fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY %s DESC, rowid ASC LIMIT ? OFFSET ?",
		rowColumns, q.Table(), ColumnBalance,
	)
	return sql, []any{q.Limit, q.Offset}, nil
}

func (c *SQLCompiler) compileDelete(q queryir.DeleteAccount) (string, []any, error) {
	where, param, err := keyPredicate(q.Key)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", q.Table(), where), []any{param}, nil
}

// keyPredicate returns "column = ?" for the key's search mode.
// CRITICAL: value is never interpolated.
func keyPredicate(k identity.Key) (string, any, error) {
	switch k.Mode {
	case identity.ByStableID:
		return ColumnStableID + " = ?", k.Value, nil
	case identity.ByDisplayName:
		return ColumnDisplayName + " = ?", k.Value, nil
	default:
		return "", nil, fmt.Errorf("unsupported search mode: %s", k.Mode)
	}
}
