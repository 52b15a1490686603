package control

import (
	"github.com/vanderheijden86/vizexplore/pkg/metrics"
)

// Action is what a classified change asks of the session.
type Action int

const (
	// ActionNone means nothing visible changed.
	ActionNone Action = iota
	// ActionRerender means only visual controls changed.
	ActionRerender
	// ActionQuery means the fetched data is invalid and must be re-queried.
	ActionQuery
)

func (a Action) String() string {
	switch a {
	case ActionRerender:
		return "rerender"
	case ActionQuery:
		return "query"
	default:
		return "none"
	}
}

// Result is the outcome of one classifier pass. All name lists are sorted.
type Result struct {
	Changed        []string
	VisualOnly     []string
	QueryAffecting []string

	// Full is set for reconciliation passes that treat every control as
	// changed.
	Full bool
}

// Empty reports whether no control changed.
func (r Result) Empty() bool {
	return len(r.Changed) == 0
}

// Action resolves the pass to a single action. Query-affecting changes
// subsume visual ones because a fresh query re-renders anyway.
func (r Result) Action() Action {
	switch {
	case len(r.QueryAffecting) > 0:
		return ActionQuery
	case len(r.VisualOnly) > 0:
		return ActionRerender
	default:
		return ActionNone
	}
}

// Classify diffs previous against current. A name counts as changed only if
// it exists in both snapshots; names new to current are first-mount noise.
func Classify(previous, current Snapshot) Result {
	defer metrics.Timer(metrics.ClassifierPass)()

	var r Result
	for _, name := range current.Names() {
		before, ok := previous.controls[name]
		if !ok {
			continue
		}
		after := current.controls[name]
		if Equal(before.Value, after.Value) {
			continue
		}
		r.add(after)
	}
	return r
}

// ClassifyAll runs a pass over every control in current, as if all of them
// had changed. Used when the set of known controls itself may have grown.
func ClassifyAll(current Snapshot) Result {
	defer metrics.Timer(metrics.ClassifierPass)()

	r := Result{Full: true}
	for _, name := range current.Names() {
		r.add(current.controls[name])
	}
	return r
}

func (r *Result) add(c Control) {
	r.Changed = append(r.Changed, c.Name)
	switch {
	case c.RenderTrigger:
		r.VisualOnly = append(r.VisualOnly, c.Name)
	case c.DontRefreshOnChange:
	default:
		r.QueryAffecting = append(r.QueryAffecting, c.Name)
	}
}
