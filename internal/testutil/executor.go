package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/coffer/internal/engine"
	"github.com/roach88/coffer/internal/queryir"
)

// ManualExecutor is a deterministic engine.Executor.
//
// Submitted queries wait in a pending list until the test runs them. Running
// a query executes it (against the backing runner, if any) and invokes its
// completion synchronously on the caller's goroutine, which plays the loop.
// Tests choose the completion order, so out-of-order delivery is
// reproducible.
//
// Thread-safety: safe for concurrent use, but completions run on whichever
// goroutine calls Run*.
type ManualExecutor struct {
	mu        sync.Mutex
	runner    engine.Runner
	ids       engine.IDGenerator
	clock     *engine.Clock
	pending   []*pendingQuery
	submitted []queryir.Query
}

type pendingQuery struct {
	handle  *engine.Handle
	query   queryir.Query
	deliver func(queryir.Result)
}

// NewManualExecutor creates an executor. With a nil runner every query
// succeeds with an empty result.
func NewManualExecutor(runner engine.Runner) *ManualExecutor {
	return &ManualExecutor{
		runner: runner,
		ids:    NewSequentialIDs("q"),
		clock:  engine.NewClock(),
	}
}

// Submit implements engine.Executor.
func (m *ManualExecutor) Submit(q queryir.Query, onComplete func(queryir.Result)) *engine.Handle {
	h := engine.NewHandle(m.ids.Generate(), m.clock.Next(), q)
	m.push(h, q, func(res queryir.Result) {
		h.Complete([]queryir.Result{res}, func() {
			if onComplete != nil {
				onComplete(res)
			}
		})
	})
	return h
}

// SubmitBatch implements engine.Executor. Each query is pending on its own.
func (m *ManualExecutor) SubmitBatch(qs []queryir.Query, onComplete func([]queryir.Result)) *engine.Handle {
	h := engine.NewHandle(m.ids.Generate(), m.clock.Next(), qs...)

	finish := func(results []queryir.Result) {
		h.Complete(results, func() {
			if onComplete != nil {
				onComplete(results)
			}
		})
	}
	if len(qs) == 0 {
		finish([]queryir.Result{})
		return h
	}

	results := make([]queryir.Result, len(qs))
	remaining := len(qs)
	for i, q := range qs {
		m.push(h, q, func(res queryir.Result) {
			results[i] = res
			remaining--
			if remaining == 0 {
				finish(results)
			}
		})
	}
	return h
}

func (m *ManualExecutor) push(h *engine.Handle, q queryir.Query, deliver func(queryir.Result)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, q)
	m.pending = append(m.pending, &pendingQuery{handle: h, query: q, deliver: deliver})
}

// Len returns the number of pending queries.
func (m *ManualExecutor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Pending returns the pending queries in submission order.
func (m *ManualExecutor) Pending() []queryir.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]queryir.Query, len(m.pending))
	for i, p := range m.pending {
		out[i] = p.query
	}
	return out
}

// Submitted returns every query ever submitted, in submission order.
func (m *ManualExecutor) Submitted() []queryir.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]queryir.Query(nil), m.submitted...)
}

// Run executes the i-th pending query and delivers its completion.
// Panics if i is out of range.
func (m *ManualExecutor) Run(i int) queryir.Result {
	p := m.take(i)
	res := m.execute(p)
	p.deliver(res)
	return res
}

// Fail completes the i-th pending query with err without executing it.
func (m *ManualExecutor) Fail(i int, err error) {
	p := m.take(i)
	p.deliver(queryir.Result{Err: &engine.QueryError{
		Code:     engine.ErrCodeQueryFailed,
		Kind:     p.query.Kind(),
		HandleID: p.handle.ID(),
		Err:      err,
	}})
}

// RunAll runs pending queries in submission order until none are left,
// including queries submitted by completions. Returns how many ran.
func (m *ManualExecutor) RunAll() int {
	n := 0
	for m.Len() > 0 {
		m.Run(0)
		n++
	}
	return n
}

// RunReverse runs the queries pending right now in reverse submission
// order. Queries submitted by their completions stay pending.
func (m *ManualExecutor) RunReverse() int {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	for i := len(batch) - 1; i >= 0; i-- {
		p := batch[i]
		p.deliver(m.execute(p))
	}
	return len(batch)
}

func (m *ManualExecutor) take(i int) *pendingQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.pending) {
		panic(fmt.Sprintf("ManualExecutor: no pending query %d (have %d)", i, len(m.pending)))
	}
	p := m.pending[i]
	m.pending = append(m.pending[:i], m.pending[i+1:]...)
	return p
}

func (m *ManualExecutor) execute(p *pendingQuery) queryir.Result {
	if m.runner == nil {
		return queryir.Result{}
	}
	res := m.runner.Execute(context.Background(), p.query)
	if res.Err != nil {
		res.Err = &engine.QueryError{
			Code:     engine.ErrCodeQueryFailed,
			Kind:     p.query.Kind(),
			HandleID: p.handle.ID(),
			Err:      res.Err,
		}
	}
	return res
}

var _ engine.Executor = (*ManualExecutor)(nil)
