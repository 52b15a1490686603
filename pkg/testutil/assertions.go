package testutil

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/vanderheijden86/vizexplore/pkg/control"
)

// AssertChanged checks that r reports exactly the given names as changed.
func AssertChanged(t *testing.T, r control.Result, want ...string) {
	t.Helper()
	got := slices.Clone(r.Changed)
	slices.Sort(got)
	want = slices.Clone(want)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("changed = %v, want %v", got, want)
	}
}

// AssertStale checks staleness of cur against last and reports the
// offending controls on failure.
func AssertStale(t *testing.T, last, cur control.Snapshot, want bool) {
	t.Helper()
	if got := control.IsStale(last, cur); got != want {
		t.Errorf("IsStale = %v, want %v (stale controls: %v)", got, want, control.StaleControls(last, cur))
	}
}

// AssertJSONEqual compares two values after JSON round-tripping.
// Useful for form data whose Go representations differ but whose
// JSON forms agree.
func AssertJSONEqual(t *testing.T, expected, actual any) {
	t.Helper()

	expectedJSON, err := json.Marshal(expected)
	if err != nil {
		t.Fatalf("failed to marshal expected: %v", err)
	}
	actualJSON, err := json.Marshal(actual)
	if err != nil {
		t.Fatalf("failed to marshal actual: %v", err)
	}
	if string(expectedJSON) != string(actualJSON) {
		t.Errorf("JSON mismatch:\nexpected: %s\nactual:   %s", expectedJSON, actualJSON)
	}
}

type manifestFile struct {
	Name     string               `yaml:"name"`
	Label    string               `yaml:"label,omitempty"`
	Controls []control.Definition `yaml:"controls"`
}

// WriteManifest writes a plugin manifest for vizType into dir and returns
// its path.
func WriteManifest(t *testing.T, dir, vizType, label string, defs []control.Definition) string {
	t.Helper()

	data, err := yaml.Marshal(manifestFile{Name: vizType, Label: label, Controls: defs})
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	path := filepath.Join(dir, vizType+".yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return path
}
