package main

import (
	"github.com/vanderheijden86/vizexplore/pkg/control"
	"github.com/vanderheijden86/vizexplore/pkg/querydef"
)

// coreDefinitions are the controls every visualization has. Plugins add
// their own on top.
func coreDefinitions() []control.Definition {
	return []control.Definition{
		{Name: querydef.KeyDatasource, Label: "Datasource", Required: true},
		{Name: querydef.KeyVizType, Label: "Visualization", Default: "table", Required: true},
		{Name: "groupby", Label: "Group by", Default: []any{}},
		{Name: "adhoc_filters", Label: "Filters", Default: []any{}},
		{Name: "row_limit", Label: "Row limit", Default: float64(1000)},
		{Name: "slice_name", Label: "Chart name", DontRefreshOnChange: true},
		{Name: "color_scheme", Label: "Color scheme", Default: "supersetColors", RenderTrigger: true},
		{Name: "show_legend", Label: "Legend", Default: true, RenderTrigger: true},
	}
}

// initialControls builds the starting snapshot from defs with values laid
// over their defaults. Values without a definition become plain controls.
func initialControls(defs []control.Definition, values map[string]any) control.Snapshot {
	byName := make(map[string]control.Definition, len(defs))
	controls := make([]control.Control, 0, len(defs)+len(values))
	for _, d := range defs {
		byName[d.Name] = d
		if _, ok := values[d.Name]; !ok {
			controls = append(controls, d.Control())
		}
	}
	for name, v := range values {
		c := control.Control{Name: name}
		if d, ok := byName[name]; ok {
			c = d.Control()
			c.ValidationErrors = d.Validate(v)
		}
		c.Value = v
		controls = append(controls, c)
	}
	return control.NewSnapshot(controls...)
}
