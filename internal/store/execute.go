package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/queryir"
	"github.com/roach88/coffer/internal/querysql"
)

// Execute validates, compiles and runs one query.
// Failures are reported in Result.Err, never panicked.
func (s *Store) Execute(ctx context.Context, q queryir.Query) queryir.Result {
	if err := queryir.Validate(q); err != nil {
		return queryir.Result{Err: fmt.Errorf("validate query: %w", err)}
	}

	sqlText, params, err := s.compiler.Compile(q)
	if err != nil {
		return queryir.Result{Err: fmt.Errorf("compile %s: %w", q.Kind(), err)}
	}

	if querysql.IsRead(q) {
		rows, err := s.queryRows(ctx, sqlText, params)
		if err != nil {
			return queryir.Result{Err: fmt.Errorf("%s: %w", q.Kind(), err)}
		}
		return queryir.Result{Rows: rows}
	}

	res, err := s.db.ExecContext(ctx, sqlText, params...)
	if err != nil {
		return queryir.Result{Err: fmt.Errorf("%s: %w", q.Kind(), err)}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return queryir.Result{Err: fmt.Errorf("%s: rows affected: %w", q.Kind(), err)}
	}
	return queryir.Result{Affected: affected}
}

// queryRows runs a read and scans every row.
// Returns an empty slice (not nil) if nothing matched.
func (s *Store) queryRows(ctx context.Context, sqlText string, params []any) ([]queryir.Row, error) {
	rows, err := s.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()

	out := []queryir.Row{}
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate players: %w", err)
	}
	return out, nil
}

// scanRow scans the querysql row column list.
func scanRow(rows *sql.Rows) (queryir.Row, error) {
	var row queryir.Row
	var lastUpdate int64
	if err := rows.Scan(&row.StableID, &row.DisplayName, &row.Balance, &lastUpdate); err != nil {
		return queryir.Row{}, fmt.Errorf("scan player: %w", err)
	}
	row.LastUpdate = time.Unix(lastUpdate, 0).UTC()
	return row, nil
}

// ReadAccount reads one row synchronously.
// Returns ErrNoAccount if not found.
func (s *Store) ReadAccount(ctx context.Context, key identity.Key) (queryir.Row, error) {
	res := s.Execute(ctx, queryir.SelectAccount{Key: key})
	if res.Err != nil {
		return queryir.Row{}, res.Err
	}
	row, ok := res.First()
	if !ok {
		return queryir.Row{}, fmt.Errorf("read %s: %w", key, ErrNoAccount)
	}
	return row, nil
}

// ReadTop reads the leaderboard synchronously.
func (s *Store) ReadTop(ctx context.Context, limit, offset int) ([]queryir.Row, error) {
	res := s.Execute(ctx, queryir.SelectTop{Limit: limit, Offset: offset})
	return res.Rows, res.Err
}

// IsNoAccount reports whether err means the account does not exist.
func IsNoAccount(err error) bool {
	return errors.Is(err, ErrNoAccount)
}
