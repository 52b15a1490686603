// Package control holds the named controls of an exploration session.
//
// A Control is a single user-editable setting. Controls live in immutable
// Snapshots; the Store owns the live snapshot and classifies every mutation
// against the one before it.
package control

import (
	"slices"
	"strings"
)

// Control is a named, typed UI value. Value is opaque to this package and is
// only ever compared structurally (see Equal).
type Control struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
	Value any    `json:"value"`

	ValidationErrors []string `json:"validationErrors,omitempty"`

	// RenderTrigger marks a control whose change only needs a re-render of
	// the already fetched result.
	RenderTrigger bool `json:"renderTrigger,omitempty"`
	// DontRefreshOnChange marks a control whose change is absorbed without
	// affecting staleness.
	DontRefreshOnChange bool `json:"dontRefreshOnChange,omitempty"`
}

// HasErrors reports whether the owning widget attached validation errors.
func (c Control) HasErrors() bool {
	return len(c.ValidationErrors) > 0
}

// Ignorable reports whether a change to c never makes a result stale.
func (c Control) Ignorable() bool {
	return c.RenderTrigger || c.DontRefreshOnChange
}

func (c Control) clone() Control {
	c.ValidationErrors = slices.Clone(c.ValidationErrors)
	return c
}

// Update is the record emitted by a control widget after it validated the
// user's input.
type Update struct {
	Name             string
	Value            any
	ValidationErrors []string
}

// Definition is the declared schema of a control, contributed by the core
// explore surface or by a visualization plugin.
type Definition struct {
	Name                string   `yaml:"name" json:"name"`
	Label               string   `yaml:"label,omitempty" json:"label,omitempty"`
	Default             any      `yaml:"default,omitempty" json:"default,omitempty"`
	RenderTrigger       bool     `yaml:"render_trigger,omitempty" json:"renderTrigger,omitempty"`
	DontRefreshOnChange bool     `yaml:"dont_refresh_on_change,omitempty" json:"dontRefreshOnChange,omitempty"`
	Required            bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Choices             []string `yaml:"choices,omitempty" json:"choices,omitempty"`
}

// Validate returns the validation messages for value under d. The widget
// library normally produces these; the TUI reuses the same rules.
func (d Definition) Validate(value any) []string {
	var errs []string
	if d.Required && isEmpty(value) {
		errs = append(errs, "cannot be empty")
	}
	if len(d.Choices) > 0 && !isEmpty(value) {
		s, ok := value.(string)
		if !ok || !slices.Contains(d.Choices, s) {
			errs = append(errs, "must be one of "+strings.Join(d.Choices, ", "))
		}
	}
	return errs
}

// Control builds the initial control for d.
func (d Definition) Control() Control {
	c := Control{
		Name:                d.Name,
		Label:               d.Label,
		Value:               d.Default,
		RenderTrigger:       d.RenderTrigger,
		DontRefreshOnChange: d.DontRefreshOnChange,
	}
	c.ValidationErrors = d.Validate(c.Value)
	return c
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
