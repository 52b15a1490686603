package control

import "testing"

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"same string", "day", "day", true},
		{"different string", "day", "week", false},
		{"int vs float", 100, float64(100), true},
		{"typed vs untyped slice", []string{"a", "b"}, []any{"a", "b"}, true},
		{"slice order matters", []any{"a", "b"}, []any{"b", "a"}, false},
		{"nil vs empty string", nil, "", false},
		{"nil vs nil", nil, nil, true},
		{"nil slice vs nil", []string(nil), nil, true},
		{"nested maps", map[string]any{"a": map[string]any{"b": 1}}, map[string]any{"a": map[string]any{"b": 1.0}}, true},
		{"absent vs nil key", map[string]any{}, map[string]any{"a": nil}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal(%#v, %#v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

type opaqueValue struct{ n int }

type filterClause struct {
	Col  string
	Meta map[string]any
}

func TestEqualKeepsDistinctOpaqueValues(t *testing.T) {
	const big = int64(1) << 53
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"unexported fields", opaqueValue{1}, opaqueValue{2}, false},
		{"same unexported fields", opaqueValue{1}, opaqueValue{1}, true},
		{"int64 above 2^53", big + 1, big, false},
		{"big ints in generic slice", []any{big + 1}, []any{big}, false},
		{"big int vs its text form", []any{big + 1}, []any{float64(big + 1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal(%#v, %#v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := EqualIgnoring(tt.a, tt.b, AnnotationField); got != tt.want {
				t.Errorf("EqualIgnoring(%#v, %#v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestOpaqueChangeIsClassifiedAndStale(t *testing.T) {
	prev := NewSnapshot(Control{Name: "metric", Value: opaqueValue{1}}, Control{Name: "limit", Value: int64(1)<<53 + 1})
	cur := prev.
		With(Control{Name: "metric", Value: opaqueValue{2}}).
		With(Control{Name: "limit", Value: int64(1) << 53})

	r := Classify(prev, cur)
	if len(r.QueryAffecting) != 2 {
		t.Fatalf("query affecting = %v, want [limit metric]", r.QueryAffecting)
	}
	if !IsStale(prev, cur) {
		t.Fatal("distinct opaque values must make the chart stale")
	}
}

func TestEqualIgnoringTypedContainers(t *testing.T) {
	a := []filterClause{{Col: "x", Meta: map[string]any{AnnotationField: "warn"}}}
	b := []filterClause{{Col: "x", Meta: map[string]any{}}}
	if !EqualIgnoring(a, b, AnnotationField) {
		t.Error("annotation inside typed containers should be ignored")
	}
	if Equal(a, b) {
		t.Error("plain Equal must see the annotation")
	}
	c := []filterClause{{Col: "y", Meta: map[string]any{}}}
	if EqualIgnoring(b, c, AnnotationField) {
		t.Error("different columns must differ")
	}
}

func TestEqualIgnoringAnnotation(t *testing.T) {
	a := []any{map[string]any{"col": "x", AnnotationField: true, "nested": map[string]any{AnnotationField: 1}}}
	b := []any{map[string]any{"col": "x", "nested": map[string]any{}}}
	if !EqualIgnoring(a, b, AnnotationField) {
		t.Error("annotation field should be ignored at any depth")
	}
	if Equal(a, b) {
		t.Error("plain Equal must see the annotation")
	}
}

func TestUnencodableValuesFallBack(t *testing.T) {
	ch := make(chan int)
	if !Equal(ch, ch) {
		t.Error("identical unencodable values should be equal")
	}
	if Equal(ch, make(chan int)) {
		t.Error("distinct channels should differ")
	}
}

func TestSnapshotEqual(t *testing.T) {
	a := NewSnapshot(Control{Name: "x", Value: 1}, Control{Name: "y", Value: "s", RenderTrigger: true})
	b := NewSnapshot(Control{Name: "x", Value: 1.0}, Control{Name: "y", Value: "s", RenderTrigger: true})
	if !a.Equal(b) {
		t.Error("expected equal snapshots")
	}
	c := NewSnapshot(Control{Name: "x", Value: 1}, Control{Name: "y", Value: "s"})
	if a.Equal(c) {
		t.Error("flag difference should make snapshots differ")
	}
	if a.Equal(NewSnapshot(Control{Name: "x", Value: 1})) {
		t.Error("different sizes should differ")
	}
}
