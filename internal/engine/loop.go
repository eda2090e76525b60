package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrLoopClosed is returned when work is handed to a stopped Loop.
var ErrLoopClosed = errors.New("engine: loop closed")

// Loop is the single-writer event loop.
//
// Thread-safety model:
//   - Post(), Call(), Every(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//
// Tasks run in FIFO order, one at a time, to completion.
type Loop struct {
	queue *taskQueue
}

// NewLoop creates a Loop with an empty task queue.
func NewLoop() *Loop {
	return &Loop{queue: newTaskQueue()}
}

// Post queues fn to run on the loop.
// Returns false if the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	return l.queue.Enqueue(fn)
}

// Call runs fn on the loop and waits for it to return.
// Must not be called from the loop goroutine itself.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrLoopClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Every posts fn onto the loop once per period until ctx is cancelled or the
// loop stops. Ticks are posted as they fire; a slow task does not cause
// later ticks to be merged by Every.
func (l *Loop) Every(ctx context.Context, period time.Duration, fn func()) {
	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !l.Post(fn) {
					return
				}
			}
		}
	}()
}

// Run drains the task queue until ctx is cancelled or Stop is called.
// Blocks the calling goroutine.
//
// After Stop, tasks already queued still run before Run returns. On context
// cancellation, queued tasks are abandoned.
//
// A panicking task is logged and the loop continues.
func (l *Loop) Run(ctx context.Context) error {
	slog.Debug("loop starting")

	for {
		if fn, ok := l.queue.TryDequeue(); ok {
			runTask(fn)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Debug("loop stopping: context cancelled")
			l.queue.Close()
			return ctx.Err()

		case <-l.queue.Wait():
			// The signal channel is closed with the queue, so this case
			// keeps firing once stopped; return when nothing is left.
			if l.queue.Closed() && l.queue.Len() == 0 {
				slog.Debug("loop stopping: queue closed")
				return nil
			}
		}
	}
}

// RunPending runs the tasks queued so far on the calling goroutine and
// returns how many ran. Tasks queued by those tasks also run.
// Intended for tests and shutdown paths that own the loop.
func (l *Loop) RunPending() int {
	n := 0
	for {
		fn, ok := l.queue.TryDequeue()
		if !ok {
			return n
		}
		runTask(fn)
		n++
	}
}

// Stop closes the loop to new tasks. Run returns once the queue drains.
func (l *Loop) Stop() {
	l.queue.Close()
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	return l.queue.Len()
}

func runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("loop task panicked", "panic", r)
		}
	}()
	fn()
}
