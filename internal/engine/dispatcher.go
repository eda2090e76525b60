package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/coffer/internal/queryir"
)

// Runner executes one query against storage. Implemented by *store.Store.
type Runner interface {
	Execute(ctx context.Context, q queryir.Query) queryir.Result
}

// DefaultWorkers is the default size of the dispatcher's worker pool.
const DefaultWorkers = 4

// defaultBacklog bounds queued jobs before Submit blocks. Workers never
// block on the loop, so a full backlog always drains.
const defaultBacklog = 256

// Dispatcher is the production Executor: a fixed worker pool that runs
// queries against a Runner and posts completions back onto a Loop.
//
// Submit and SubmitBatch are safe from any goroutine, but completions always
// run on the loop.
type Dispatcher struct {
	loop    *Loop
	runner  Runner
	ids     IDGenerator
	clock   *Clock
	workers int
	timeout time.Duration

	jobs chan job
	wg   sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	pending int           // accepted jobs whose completion is not yet posted
	idle    chan struct{} // closed when pending drops to zero
}

type job struct {
	handle *Handle
	query  queryir.Query
	// deliver runs on the loop with this query's result.
	deliver func(queryir.Result)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers sets the worker pool size.
//
// Default: 4 workers (DefaultWorkers). SQLite serializes writers, so more
// workers mostly help overlapping reads.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithIDGenerator sets the handle ID source.
func WithIDGenerator(g IDGenerator) DispatcherOption {
	return func(d *Dispatcher) {
		d.ids = g
	}
}

// WithQueryTimeout bounds each query's execution. Zero means no timeout.
func WithQueryTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// NewDispatcher creates a Dispatcher and starts its workers.
// Call Close to stop them.
func NewDispatcher(loop *Loop, runner Runner, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		loop:    loop,
		runner:  runner,
		ids:     UUIDv7Generator{},
		clock:   NewClock(),
		workers: DefaultWorkers,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.jobs = make(chan job, defaultBacklog)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}

	return d
}

// Submit implements Executor.
func (d *Dispatcher) Submit(q queryir.Query, onComplete func(queryir.Result)) *Handle {
	h := NewHandle(d.ids.Generate(), d.clock.Next(), q)

	slog.Debug("dispatching query", "handle", h.ID(), "seq", h.Seq(), "query", kindOf(q))

	d.enqueue(h, q, func(res queryir.Result) {
		h.Complete([]queryir.Result{res}, func() {
			if onComplete != nil {
				onComplete(res)
			}
		})
	})
	return h
}

// SubmitBatch implements Executor. Each query is an independent job; the
// batch completes on the loop when the last one does.
func (d *Dispatcher) SubmitBatch(qs []queryir.Query, onComplete func([]queryir.Result)) *Handle {
	h := NewHandle(d.ids.Generate(), d.clock.Next(), qs...)

	slog.Debug("dispatching batch", "handle", h.ID(), "seq", h.Seq(), "queries", len(qs))

	finish := func(results []queryir.Result) {
		h.Complete(results, func() {
			if onComplete != nil {
				onComplete(results)
			}
		})
	}

	if len(qs) == 0 {
		d.post(h, func() { finish([]queryir.Result{}) })
		return h
	}

	// Only touched on the loop.
	results := make([]queryir.Result, len(qs))
	remaining := len(qs)

	for i, q := range qs {
		d.enqueue(h, q, func(res queryir.Result) {
			results[i] = res
			remaining--
			if remaining == 0 {
				finish(results)
			}
		})
	}
	return h
}

// enqueue hands one query to the pool. A closed dispatcher or unsupported
// query completes immediately (still on the loop) with a QueryError.
func (d *Dispatcher) enqueue(h *Handle, q queryir.Query, deliver func(queryir.Result)) {
	if q == nil {
		err := &QueryError{Code: ErrCodeUnsupportedQuery, Kind: kindOf(q), HandleID: h.ID()}
		d.post(h, func() { deliver(queryir.Result{Err: err}) })
		return
	}

	if !d.acquire() {
		err := &QueryError{Code: ErrCodeExecutorClosed, Kind: q.Kind(), HandleID: h.ID()}
		d.post(h, func() { deliver(queryir.Result{Err: err}) })
		return
	}

	d.jobs <- job{handle: h, query: q, deliver: deliver}
}

func (d *Dispatcher) acquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	d.pending++
	return true
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending--
	if d.pending == 0 {
		close(d.idle)
	}
}

// idleChan returns a channel closed once no accepted job is outstanding.
func (d *Dispatcher) idleChan() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return d.idle
}

// post schedules a completion on the loop. If the loop is gone the handle is
// completed without its callback, so waiters on Done are released.
func (d *Dispatcher) post(h *Handle, fn func()) {
	if d.loop.Post(fn) {
		return
	}
	slog.Warn("completion dropped: loop closed", "handle", h.ID(), "seq", h.Seq())
	h.Complete([]queryir.Result{{Err: ErrLoopClosed}}, nil)
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.jobs {
		res := d.run(j.query)
		if res.Err != nil {
			res.Err = &QueryError{Code: ErrCodeQueryFailed, Kind: j.query.Kind(), HandleID: j.handle.ID(), Err: res.Err}
			slog.Warn("query failed", "handle", j.handle.ID(), "query", j.query.Kind(), "error", res.Err)
		} else {
			slog.Debug("query completed", "handle", j.handle.ID(), "seq", j.handle.Seq(), "query", j.query.Kind())
		}

		deliver := j.deliver
		d.post(j.handle, func() { deliver(res) })
		d.release()
	}
}

func (d *Dispatcher) run(q queryir.Query) queryir.Result {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.runner.Execute(ctx, q)
}

// Wait blocks until every accepted query has run and its completion has been
// posted to the loop, or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	select {
	case <-d.idleChan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of accepted queries whose completion has not
// been posted yet.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Drain waits until no query is outstanding, including queries submitted by
// completions that ran meanwhile. The loop must be running.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for {
		if err := d.Wait(ctx); err != nil {
			return err
		}
		// Every completion posted so far has run once this returns.
		if err := d.loop.Call(ctx, func() {}); err != nil {
			return err
		}
		if d.Pending() == 0 {
			return nil
		}
	}
}

// Close stops accepting queries, lets the workers finish what was already
// accepted, and waits for them to exit. Later submissions complete with
// ErrCodeExecutorClosed. Close is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	// Submissions accepted before closed was set may not have reached the
	// channel yet; they hold a pending slot.
	<-d.idleChan()
	close(d.jobs)
	d.wg.Wait()
}
