package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/queryir"
	"github.com/roach88/coffer/internal/session"
	"github.com/roach88/coffer/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			switch event.Type {
			case EventCommand:
				fmt.Fprintf(&buf, "  [%d] > %s\n", i+1, event.Line)
			case EventRun:
				fmt.Fprintf(&buf, "  [%d] run %s\n", i+1, event.Line)
			default:
				fmt.Fprintf(&buf, "  [%d]   %s\n", i+1, event.Line)
			}
		}
	}

	return buf.String()
}

// assertOutputContains checks that some output line equals assertion.Line.
func assertOutputContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type == EventOutput && event.Line == assertion.Line {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertOutputContains,
		Expected: fmt.Sprintf("output line %q", assertion.Line),
		Actual:   "not found in output",
		Trace:    trace,
	}
}

// assertOutputOrder checks that lines appear in the specified order.
// Lines don't need to be consecutive (intervening output is allowed).
func assertOutputOrder(trace []TraceEvent, assertion Assertion) error {
	// Walk the output once, matching expected lines left to right
	next := 0
	for _, event := range trace {
		if next == len(assertion.Lines) {
			break
		}
		if event.Type == EventOutput && event.Line == assertion.Lines[next] {
			next++
		}
	}

	if next < len(assertion.Lines) {
		return &AssertionError{
			Type:     AssertOutputOrder,
			Expected: fmt.Sprintf("lines in order: %q", assertion.Lines),
			Actual:   fmt.Sprintf("missing or out of order: %q", assertion.Lines[next]),
			Trace:    trace,
		}
	}

	return nil
}

// assertOutputCount checks that the line appears exactly the specified number of times.
func assertOutputCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventOutput && event.Line == assertion.Line {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertOutputCount,
			Expected: fmt.Sprintf("%d occurrences of %q", assertion.Count, assertion.Line),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFinalState checks if the stored table contains expected values.
// Queries the table with parameterized SQL and validates expected values
// using subset semantics.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	table := assertion.Table
	if table == "" {
		table = queryir.TablePlayers
	}

	// Identifiers can't be parameterized
	if !validIdentifier.MatchString(table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	whereDesc := formatWhereClause(assertion.Where)

	if !rows.Next() {
		if assertion.Absent {
			return nil
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", table, whereDesc),
			Actual:   "row not found",
		}
	}
	if assertion.Absent {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("no row in %s where %s", table, whereDesc),
			Actual:   "row found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// Multiple matching rows would make the assertion ambiguous
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", table, whereDesc),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any)
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	return compareFields(AssertFinalState, assertion.Expect, actualRow, columns)
}

// assertSession checks the live session of a player. The "online" field
// reports whether a session exists; the other fields need one.
func assertSession(reg *session.Registry, assertion Assertion) error {
	s := reg.Resolve(identity.NameKey(assertion.Name))

	actual := map[string]any{"online": s != nil}
	if s != nil {
		actual["stable_id"] = s.StableID()
		actual["balance"] = s.Balance()
		actual["new"] = s.Cache().IsNew()
		actual["unsaved"] = s.Cache().AwaitingSave()
		actual["fix_pending"] = s.FixPending()
	}

	available := make([]string, 0, len(actual))
	for k := range actual {
		available = append(available, k)
	}
	sort.Strings(available)

	return compareFields(AssertSession, assertion.Expect, actual, available)
}

// compareFields checks expected against actual with subset semantics, in
// sorted key order so the first reported mismatch is stable.
func compareFields(kind string, expected, actual map[string]any, available []string) error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expectedValue := expected[key]
		actualValue, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in: %v", key, available),
			}
		}

		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
//
// Security: Column names are validated against a whitelist pattern to prevent
// SQL injection via identifier interpolation.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML-decoded value to a SQL-compatible value.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected and actual values.
// Handles type coercion: YAML decodes integers as int, SQLite returns
// int64, and SQLite stores booleans as integers.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	switch exp := expected.(type) {
	case string:
		switch act := actual.(type) {
		case string:
			return exp == act
		case []byte:
			return exp == string(act)
		}
		return false
	case int:
		return toInt64(actual, int64(exp))
	case int64:
		return toInt64(actual, exp)
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		if actualInt, ok := actual.(int64); ok {
			return exp == (actualInt != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

func toInt64(actual any, want int64) bool {
	switch act := actual.(type) {
	case int64:
		return act == want
	case int:
		return int64(act) == want
	}
	return false
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store    *store.Store
	Registry *session.Registry
	Ctx      context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides store and registry access for state
// assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertOutputContains:
			err = assertOutputContains(result.Trace, assertion)
		case AssertOutputOrder:
			err = assertOutputOrder(result.Trace, assertion)
		case AssertOutputCount:
			err = assertOutputCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		case AssertSession:
			if actx == nil || actx.Registry == nil {
				err = fmt.Errorf("assertion[%d]: session requires registry context", i)
			} else {
				err = assertSession(actx.Registry, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
