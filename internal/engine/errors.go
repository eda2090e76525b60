package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/coffer/internal/queryir"
)

// QueryError reports a query that did not run successfully.
//
// QueryError includes the handle and query kind so a failed completion can
// be matched to its dispatch log line.
type QueryError struct {
	// Code identifies the error category.
	Code QueryErrorCode

	// Kind is the query kind that failed.
	Kind queryir.Kind

	// HandleID identifies the dispatch.
	HandleID string

	// Err is the underlying cause, if any.
	Err error
}

// QueryErrorCode categorizes query errors.
type QueryErrorCode string

const (
	// ErrCodeQueryFailed indicates storage returned an error.
	ErrCodeQueryFailed QueryErrorCode = "QUERY_FAILED"

	// ErrCodeExecutorClosed indicates the executor was closed before the
	// query could be dispatched.
	ErrCodeExecutorClosed QueryErrorCode = "EXECUTOR_CLOSED"

	// ErrCodeUnsupportedQuery indicates a query the executor cannot run.
	ErrCodeUnsupportedQuery QueryErrorCode = "UNSUPPORTED_QUERY"
)

// Error implements the error interface.
func (e *QueryError) Error() string {
	msg := fmt.Sprintf("%s: %s query", e.Code, e.Kind)
	if e.HandleID != "" {
		msg += " (handle=" + e.HandleID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsExecutorClosed returns true if err reports a closed executor.
// Uses errors.As to handle wrapped errors.
func IsExecutorClosed(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Code == ErrCodeExecutorClosed
	}
	return false
}

// IsQueryFailed returns true if err reports a storage failure.
func IsQueryFailed(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Code == ErrCodeQueryFailed
	}
	return false
}

func kindOf(q queryir.Query) queryir.Kind {
	if q == nil {
		return "nil"
	}
	return q.Kind()
}
