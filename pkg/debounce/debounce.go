// Package debounce coalesces bursts of calls into a single execution.
//
// A Debouncer is a single-slot register for the latest pending call: each
// Trigger replaces the pending function and restarts the quiescence window,
// so when the timer finally fires it runs the most recent function only.
package debounce

import (
	"sync"
	"time"
)

// DefaultDuration is used when a non-positive duration is given.
const DefaultDuration = time.Second

// Debouncer runs the last triggered function once the window passes without
// another Trigger.
type Debouncer struct {
	duration time.Duration

	mu         sync.Mutex
	timer      *time.Timer
	pending    func()
	gen        uint64
	onCoalesce func()
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithOnCoalesce sets a hook invoked whenever a pending call is superseded.
func WithOnCoalesce(fn func()) Option {
	return func(d *Debouncer) {
		d.onCoalesce = fn
	}
}

// New creates a Debouncer with the given quiescence window.
func New(d time.Duration, opts ...Option) *Debouncer {
	if d <= 0 {
		d = DefaultDuration
	}
	db := &Debouncer{duration: d}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Duration returns the quiescence window.
func (d *Debouncer) Duration() time.Duration {
	return d.duration
}

// Trigger schedules fn, superseding any call still waiting in the window.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	superseded := d.pending != nil
	d.pending = fn
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, func() { d.fire(gen) })
	hook := d.onCoalesce
	d.mu.Unlock()

	if superseded && hook != nil {
		hook()
	}
}

// Pending reports whether a call is waiting for the window to close.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Flush runs the pending call now, on the caller's goroutine.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	fn := d.pending
	d.pending = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Cancel drops the pending call without running it.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.pending = nil
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.pending == nil {
		// Superseded by a later Trigger, Flush or Cancel.
		d.mu.Unlock()
		return
	}
	fn := d.pending
	d.pending = nil
	d.mu.Unlock()

	fn()
}
