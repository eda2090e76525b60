package engine

import (
	"sync"

	"github.com/roach88/coffer/internal/queryir"
)

// Executor runs storage queries off the loop.
//
// onComplete is invoked exactly once, on the loop, with the query's result.
// It may be nil. Ordering across distinct submissions is not guaranteed.
type Executor interface {
	// Submit dispatches one query.
	Submit(q queryir.Query, onComplete func(queryir.Result)) *Handle

	// SubmitBatch dispatches each query independently and completes once,
	// after every query has completed. Results are in submission order.
	SubmitBatch(qs []queryir.Query, onComplete func([]queryir.Result)) *Handle
}

// Handle is the pending side of a dispatched query or batch.
//
// A Handle completes exactly once. Results are only valid after Done is
// closed.
type Handle struct {
	id      string
	seq     int64
	kinds   []queryir.Kind
	once    sync.Once
	done    chan struct{}
	results []queryir.Result
}

// NewHandle creates an incomplete handle for the given queries.
// Executors call it when accepting a submission.
func NewHandle(id string, seq int64, qs ...queryir.Query) *Handle {
	kinds := make([]queryir.Kind, len(qs))
	for i, q := range qs {
		kinds[i] = kindOf(q)
	}
	return &Handle{
		id:    id,
		seq:   seq,
		kinds: kinds,
		done:  make(chan struct{}),
	}
}

// ID returns the handle's dispatch ID.
func (h *Handle) ID() string { return h.id }

// Seq returns the handle's dispatch sequence number.
func (h *Handle) Seq() int64 { return h.seq }

// Kinds returns the kinds of the queries behind the handle.
func (h *Handle) Kinds() []queryir.Kind { return h.kinds }

// Done is closed once the handle has completed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Completed reports whether the handle has completed.
func (h *Handle) Completed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Results returns the results of a completed handle, or nil before
// completion.
func (h *Handle) Results() []queryir.Result {
	if !h.Completed() {
		return nil
	}
	return h.results
}

// Result returns the first result of a completed handle.
func (h *Handle) Result() queryir.Result {
	rs := h.Results()
	if len(rs) == 0 {
		return queryir.Result{}
	}
	return rs[0]
}

// Complete records results, runs then, and closes Done, all at most once.
// Returns false if the handle had already completed.
//
// Done is closed after then returns, so a waiter observes the callback's
// effects.
func (h *Handle) Complete(results []queryir.Result, then func()) bool {
	fired := false
	h.once.Do(func() {
		fired = true
		h.results = results
		defer close(h.done)
		if then != nil {
			then()
		}
	})
	return fired
}
