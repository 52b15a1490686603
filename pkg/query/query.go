// Package query runs query definitions against a datasource. Only the call
// shape matters to the explore session: a request goes in, a result or an
// error comes out, and an in-flight run can be aborted.
package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vanderheijden86/vizexplore/pkg/debug"
	"github.com/vanderheijden86/vizexplore/pkg/metrics"
	"github.com/vanderheijden86/vizexplore/pkg/querydef"
)

// ErrAborted is delivered to a run that was stopped or superseded.
var ErrAborted = errors.New("query aborted")

// Request is one query execution.
type Request struct {
	FormData   map[string]any
	Datasource querydef.Datasource
	Force      bool
}

// Result is what an executor returns.
type Result struct {
	Columns  []string
	Rows     [][]any
	Query    string
	Duration time.Duration
}

// RowCount returns the number of rows.
func (r Result) RowCount() int {
	return len(r.Rows)
}

// Executor executes a request.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Handle controls one run.
type Handle struct {
	id      uint64
	cancel  context.CancelFunc
	done    chan struct{}
	aborted atomic.Bool
}

// ID identifies the run within its Runner.
func (h *Handle) ID() uint64 {
	return h.id
}

// Abort stops the run. The run's callback receives ErrAborted.
func (h *Handle) Abort() {
	if h.aborted.CompareAndSwap(false, true) {
		h.cancel()
	}
}

// Aborted reports whether Abort was called.
func (h *Handle) Aborted() bool {
	return h.aborted.Load()
}

// Done closes once the callback returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Runner keeps at most one run in flight. Starting a run aborts the
// previous one.
type Runner struct {
	exec Executor

	mu   sync.Mutex
	cur  *Handle
	next uint64
}

// NewRunner creates a Runner over exec.
func NewRunner(exec Executor) *Runner {
	return &Runner{exec: exec}
}

// Run starts req in the background and calls onDone with its outcome.
func (r *Runner) Run(req Request, onDone func(*Handle, Result, error)) *Handle {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.next++
	h := &Handle{id: r.next, cancel: cancel, done: make(chan struct{})}
	prev := r.cur
	r.cur = h
	r.mu.Unlock()

	if prev != nil && r.abortIfRunning(prev) {
		debug.Log("query: run %d superseded by %d", prev.id, h.id)
	}

	go func() {
		defer close(h.done)
		defer cancel()

		start := time.Now()
		res, err := r.exec.Execute(ctx, req)
		elapsed := time.Since(start)
		metrics.QueryRun.Record(elapsed)

		if h.Aborted() || errors.Is(err, context.Canceled) {
			res, err = Result{}, ErrAborted
		} else if err == nil {
			res.Duration = elapsed
		}

		r.mu.Lock()
		if r.cur == h {
			r.cur = nil
		}
		r.mu.Unlock()

		if onDone != nil {
			onDone(h, res, err)
		}
	}()
	return h
}

// Abort stops the current run, if any. It reports whether one was running.
func (r *Runner) Abort() bool {
	r.mu.Lock()
	h := r.cur
	r.mu.Unlock()
	if h == nil {
		return false
	}
	return r.abortIfRunning(h)
}

// Running reports whether a run is in flight.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}

// Current returns the in-flight handle, or nil.
func (r *Runner) Current() *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

func (r *Runner) abortIfRunning(h *Handle) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	if h.Aborted() {
		return false
	}
	h.Abort()
	metrics.QueriesAborted.Inc()
	return true
}
