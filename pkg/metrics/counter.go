package metrics

import "sync/atomic"

// Counter is a monotonically increasing event count.
type Counter struct {
	name string
	n    atomic.Int64
}

func newCounter(name string) *Counter {
	return &Counter{name: name}
}

// Inc adds one.
func (c *Counter) Inc() {
	if !Enabled() {
		return
	}
	c.n.Add(1)
}

// Value returns the current count.
func (c *Counter) Value() int64 { return c.n.Load() }

// Name returns the counter name.
func (c *Counter) Name() string { return c.name }

// Reset sets the count back to zero.
func (c *Counter) Reset() { c.n.Store(0) }

// Counters for paths that degrade silently.
var (
	PersistCoalesced  = newCounter("persist_coalesced")
	PersistFailures   = newCounter("persist_failures")
	NavigationSkipped = newCounter("navigation_skipped")
	QueriesAborted    = newCounter("queries_aborted")
	StaleTransitions  = newCounter("stale_transitions")
)

// AllCounters returns all registered counters.
func AllCounters() []*Counter {
	return []*Counter{
		PersistCoalesced,
		PersistFailures,
		NavigationSkipped,
		QueriesAborted,
		StaleTransitions,
	}
}

// CounterValues returns name→value for every counter.
func CounterValues() map[string]int64 {
	out := make(map[string]int64)
	for _, c := range AllCounters() {
		out[c.name] = c.Value()
	}
	return out
}
