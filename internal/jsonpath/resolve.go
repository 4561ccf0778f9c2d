// Package jsonpath resolves dot-notation paths against nested event data
// and matches resolved values against precompiled patterns.
package jsonpath

import "strings"

// Kind tags the outcome of a path resolution.
type Kind int

const (
	// Absent means the path did not resolve to a value.
	Absent Kind = iota
	// Scalar means the path resolved to a single value (possibly nil).
	Scalar
	// Projected means the path used the []-projection and resolved to a
	// list of per-element values.
	Projected
)

// Result is the tagged outcome of Resolve. Value is set for Scalar,
// Values for Projected.
type Result struct {
	Kind   Kind
	Value  any
	Values []any
}

// IsAbsent reports whether the resolution produced no value. A Projected
// result with zero surviving elements counts as absent.
func (r Result) IsAbsent() bool {
	return r.Kind == Absent || (r.Kind == Projected && len(r.Values) == 0)
}

// Resolve resolves a dot-notation path against parsed JSON data.
// The path "a.b.c" descends field by field and returns Absent the moment
// an intermediate value is not an object. A path containing "[]" (for
// example "a.b[].c") resolves "a.b" to an array and maps each element
// through the remaining sub-path, dropping elements where the sub-path is
// absent. Resolve never panics; malformed paths simply resolve to Absent.
func Resolve(data map[string]any, path string) Result {
	if idx := strings.Index(path, "[]"); idx >= 0 {
		return resolveProjection(data, path[:idx], strings.TrimPrefix(path[idx+2:], "."))
	}
	val, ok := descend(data, path)
	if !ok {
		return Result{Kind: Absent}
	}
	return Result{Kind: Scalar, Value: val}
}

func resolveProjection(data map[string]any, arrayPath, subPath string) Result {
	val, ok := descend(data, arrayPath)
	if !ok {
		return Result{Kind: Absent}
	}
	arr, ok := val.([]any)
	if !ok {
		return Result{Kind: Absent}
	}
	// Empty sub-path returns the raw array so scalar-array membership
	// tests work ("labels[]" against a list of strings).
	if subPath == "" {
		return Result{Kind: Projected, Values: arr}
	}
	values := make([]any, 0, len(arr))
	for _, elem := range arr {
		m, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := descend(m, subPath); ok {
			values = append(values, v)
		}
	}
	return Result{Kind: Projected, Values: values}
}

// descend walks a plain dot-path. The second return is false when any
// segment is missing or an intermediate value is not an object.
func descend(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
