package control

import (
	"maps"
	"slices"
)

// Snapshot is an immutable mapping from control name to Control, taken at a
// point in time. The zero value is an empty snapshot.
type Snapshot struct {
	controls map[string]Control
}

// NewSnapshot builds a snapshot from controls. A later control with the same
// name replaces an earlier one.
func NewSnapshot(controls ...Control) Snapshot {
	m := make(map[string]Control, len(controls))
	for _, c := range controls {
		m[c.Name] = c.clone()
	}
	return Snapshot{controls: m}
}

// FromValues builds a snapshot of plain controls from a flat value map, e.g.
// a query definition restored from navigation history. Flags are copied from
// template when it knows the name.
func FromValues(values map[string]any, template Snapshot) Snapshot {
	m := make(map[string]Control, len(values))
	for name, v := range values {
		c, ok := template.controls[name]
		if !ok {
			c = Control{Name: name}
		}
		c = c.clone()
		c.Value = v
		m[name] = c
	}
	return Snapshot{controls: m}
}

// Get returns the control called name.
func (s Snapshot) Get(name string) (Control, bool) {
	c, ok := s.controls[name]
	if !ok {
		return Control{}, false
	}
	return c.clone(), true
}

// Has reports whether a control called name exists.
func (s Snapshot) Has(name string) bool {
	_, ok := s.controls[name]
	return ok
}

// Value returns the value of the named control, or nil.
func (s Snapshot) Value(name string) any {
	return s.controls[name].Value
}

// Len returns the number of controls.
func (s Snapshot) Len() int {
	return len(s.controls)
}

// Names returns the control names in sorted order.
func (s Snapshot) Names() []string {
	return slices.Sorted(maps.Keys(s.controls))
}

// Controls returns the controls sorted by name.
func (s Snapshot) Controls() []Control {
	out := make([]Control, 0, len(s.controls))
	for _, name := range s.Names() {
		out = append(out, s.controls[name].clone())
	}
	return out
}

// With returns a copy of s with c set.
func (s Snapshot) With(c Control) Snapshot {
	m := maps.Clone(s.controls)
	if m == nil {
		m = make(map[string]Control, 1)
	}
	m[c.Name] = c.clone()
	return Snapshot{controls: m}
}

// Values projects the snapshot to the flat name→value mapping that forms a
// query definition's payload.
func (s Snapshot) Values() map[string]any {
	out := make(map[string]any, len(s.controls))
	for name, c := range s.controls {
		out[name] = c.Value
	}
	return out
}

// Equal reports whether both snapshots hold the same names with equal values
// and flags.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s.controls) != len(o.controls) {
		return false
	}
	for name, a := range s.controls {
		b, ok := o.controls[name]
		if !ok {
			return false
		}
		if a.RenderTrigger != b.RenderTrigger || a.DontRefreshOnChange != b.DontRefreshOnChange {
			return false
		}
		if !Equal(a.Value, b.Value) {
			return false
		}
	}
	return true
}
