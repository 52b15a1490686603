package plugin

import (
	"sync"

	"github.com/vanderheijden86/vizexplore/pkg/debug"
)

// Coordinator watches the load state of the selected viz type across passes
// and fires a reconciliation when a plugin finishes mounting.
//
// Only the previous Mounting flag is remembered, not the plugin it belonged
// to: switching viz type while the old plugin was mounting counts as the
// end of a load.
type Coordinator struct {
	mu          sync.Mutex
	prev        bool
	onReconcile func(vizType string)
}

// NewCoordinator creates a coordinator that calls onReconcile on the
// mounting true→false edge.
func NewCoordinator(onReconcile func(vizType string)) *Coordinator {
	return &Coordinator{onReconcile: onReconcile}
}

// Observe records st for vizType. It reports whether the edge fired.
func (c *Coordinator) Observe(vizType string, st State) bool {
	c.mu.Lock()
	fired := c.prev && !st.Mounting
	c.prev = st.Mounting
	c.mu.Unlock()

	if !fired {
		return false
	}
	debug.Log("plugin: %s finished mounting, reconciling", vizType)
	if c.onReconcile != nil {
		c.onReconcile(vizType)
	}
	return true
}

// Mounting returns the flag seen on the last pass.
func (c *Coordinator) Mounting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prev
}
