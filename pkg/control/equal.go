package control

import (
	"bytes"
	"reflect"

	"github.com/goccy/go-json"
)

// AnnotationField is the key of a non-semantic annotation that controls such
// as adhoc filters carry; staleness never looks at it.
const AnnotationField = "datasourceWarning"

// Equal compares two control values structurally. Two values of the same
// concrete type compare with reflect.DeepEqual, except generic containers
// (map[string]any, []any), whose elements may mix shapes. Those and values of
// different types are normalized through JSON so that a value restored from
// persistence (numbers decoded, slices as []any) equals its native
// counterpart. Numbers keep their exact decimal text. nil is a value:
// Equal(nil, "") is false, and a map key holding nil differs from an absent
// key. A nil slice and an untyped nil both encode as null and compare equal.
func Equal(a, b any) bool {
	return equal(a, b, "")
}

// EqualIgnoring is Equal with every map key named field dropped, at any depth.
func EqualIgnoring(a, b any, field string) bool {
	return equal(a, b, field)
}

func equal(a, b any, ignore string) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	if ta := reflect.TypeOf(a); ta != nil && ta == reflect.TypeOf(b) && !generic(a) &&
		(ignore == "" || !mayHoldMap(ta, map[reflect.Type]bool{})) {
		return false
	}
	na, okA := normalize(a)
	nb, okB := normalize(b)
	if !okA || !okB {
		return reflect.DeepEqual(a, b)
	}
	if ignore != "" {
		na = strip(na, ignore)
		nb = strip(nb, ignore)
	}
	return reflect.DeepEqual(na, nb)
}

func normalize(v any) (any, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, false
	}
	return out, true
}

// mayHoldMap reports whether values of t can contain a map, the only place
// an ignored field can live.
func mayHoldMap(t reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true
	switch t.Kind() {
	case reflect.Map, reflect.Interface:
		return true
	case reflect.Slice, reflect.Array, reflect.Pointer:
		return mayHoldMap(t.Elem(), seen)
	case reflect.Struct:
		for i := range t.NumField() {
			if mayHoldMap(t.Field(i).Type, seen) {
				return true
			}
		}
	}
	return false
}

func generic(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func strip(v any, field string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if k == field {
				continue
			}
			out[k] = strip(val, field)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = strip(val, field)
		}
		return out
	}
	return v
}
