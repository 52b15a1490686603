// Package testutil provides deterministic fixture generators for control
// definitions, snapshots and edit sequences.
package testutil

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/vanderheijden86/vizexplore/pkg/control"
)

// GeneratorConfig controls fixture generation.
type GeneratorConfig struct {
	Seed             int64   // Random seed for determinism (0 = use current time)
	NamePrefix       string  // Prefix for control names (default: "ctl")
	VisualRatio      float64 // Share of controls flagged as render triggers
	DontRefreshRatio float64 // Share of controls flagged dont-refresh-on-change
}

// DefaultConfig returns a config suitable for most tests.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		Seed:             42,
		NamePrefix:       "ctl",
		VisualRatio:      0.3,
		DontRefreshRatio: 0.1,
	}
}

// Generator creates control fixtures.
type Generator struct {
	cfg GeneratorConfig
	rng *rand.Rand
}

// New creates a Generator with the given config.
func New(cfg GeneratorConfig) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = "ctl"
	}
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// NewDefault creates a Generator with default config.
func NewDefault() *Generator {
	return New(DefaultConfig())
}

// Name returns the control name at index i.
func (g *Generator) Name(i int) string {
	return fmt.Sprintf("%s_%03d", g.cfg.NamePrefix, i)
}

// Definitions returns n control definitions. Flags are drawn from the
// configured ratios; a control is never both a render trigger and
// dont-refresh.
func (g *Generator) Definitions(n int) []control.Definition {
	defs := make([]control.Definition, n)
	for i := range defs {
		d := control.Definition{
			Name:    g.Name(i),
			Label:   fmt.Sprintf("Control %d", i),
			Default: g.Value(),
		}
		switch p := g.rng.Float64(); {
		case p < g.cfg.VisualRatio:
			d.RenderTrigger = true
		case p < g.cfg.VisualRatio+g.cfg.DontRefreshRatio:
			d.DontRefreshOnChange = true
		}
		defs[i] = d
	}
	return defs
}

// Snapshot builds a snapshot holding each definition at its default.
func Snapshot(defs []control.Definition) control.Snapshot {
	controls := make([]control.Control, len(defs))
	for i, d := range defs {
		controls[i] = d.Control()
	}
	return control.NewSnapshot(controls...)
}

// Edits returns n updates against controls of snap. Values are fresh
// draws, so an edit may repeat the current value.
func (g *Generator) Edits(snap control.Snapshot, n int) []control.Update {
	names := snap.Names()
	if len(names) == 0 {
		return nil
	}
	edits := make([]control.Update, n)
	for i := range edits {
		edits[i] = control.Update{
			Name:  names[g.rng.Intn(len(names))],
			Value: g.Value(),
		}
	}
	return edits
}

// Value draws a control value of the shapes JSON form data can hold.
func (g *Generator) Value() any {
	switch g.rng.Intn(5) {
	case 0:
		return nil
	case 1:
		return fmt.Sprintf("v%d", g.rng.Intn(10))
	case 2:
		return float64(g.rng.Intn(100))
	case 3:
		return g.rng.Intn(2) == 0
	default:
		n := g.rng.Intn(3)
		list := make([]any, n)
		for i := range list {
			list[i] = fmt.Sprintf("col%d", g.rng.Intn(5))
		}
		return list
	}
}

// Split partitions defs into query-affecting and visual-only names.
func Split(defs []control.Definition) (query, visual []string) {
	for _, d := range defs {
		if d.RenderTrigger || d.DontRefreshOnChange {
			visual = append(visual, d.Name)
		} else {
			query = append(query, d.Name)
		}
	}
	return query, visual
}
