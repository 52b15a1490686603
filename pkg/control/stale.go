package control

import (
	"sync"

	"github.com/vanderheijden86/vizexplore/pkg/metrics"
)

// IsStale reports whether the result fetched for lastQueried no longer
// reflects current. Visual-only and refresh-exempt controls never make a
// result stale. A control removed from current counts as changed unless it
// was ignorable when queried.
func IsStale(lastQueried, current Snapshot) bool {
	defer metrics.Timer(metrics.StalenessCheck)()

	for _, name := range lastQueried.Names() {
		queried := lastQueried.controls[name]
		now, ok := current.controls[name]
		if !ok {
			if queried.Ignorable() {
				continue
			}
			return true
		}
		if now.Ignorable() {
			continue
		}
		if !EqualIgnoring(queried.Value, now.Value, AnnotationField) {
			return true
		}
	}
	return false
}

// StaleControls lists the names IsStale would flag, sorted.
func StaleControls(lastQueried, current Snapshot) []string {
	var out []string
	for _, name := range lastQueried.Names() {
		queried := lastQueried.controls[name]
		now, ok := current.controls[name]
		switch {
		case !ok && !queried.Ignorable():
			out = append(out, name)
		case ok && !now.Ignorable() && !EqualIgnoring(queried.Value, now.Value, AnnotationField):
			out = append(out, name)
		}
	}
	return out
}

// StaleTracker turns the recomputed staleness flag into transition edges so
// telemetry fires once per entry into the stale state.
type StaleTracker struct {
	mu    sync.Mutex
	stale bool
}

// Observe records the latest flag and reports whether it just became stale.
func (t *StaleTracker) Observe(stale bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entered := stale && !t.stale
	t.stale = stale
	return entered
}

// ValidationErrors collects the validation messages of query-affecting
// controls, keyed by control name. Any entry blocks automatic querying.
func ValidationErrors(s Snapshot) map[string][]string {
	var out map[string][]string
	for _, name := range s.Names() {
		c := s.controls[name]
		if c.RenderTrigger || !c.HasErrors() {
			continue
		}
		if out == nil {
			out = make(map[string][]string)
		}
		out[name] = append([]string(nil), c.ValidationErrors...)
	}
	return out
}
