package jsonpath

import "testing"

func TestResolve_SimpleField(t *testing.T) {
	data := map[string]any{"name": "Alice"}
	res := Resolve(data, "name")
	if res.Kind != Scalar {
		t.Fatalf("expected scalar, got kind %v", res.Kind)
	}
	if res.Value != "Alice" {
		t.Errorf("expected 'Alice', got %v", res.Value)
	}
}

func TestResolve_NestedField(t *testing.T) {
	data := map[string]any{
		"provenance": map[string]any{
			"author": map[string]any{
				"login": "octocat",
			},
		},
	}
	res := Resolve(data, "provenance.author.login")
	if res.Kind != Scalar || res.Value != "octocat" {
		t.Errorf("expected scalar 'octocat', got %+v", res)
	}
}

func TestResolve_MissingField(t *testing.T) {
	data := map[string]any{"name": "Alice"}
	res := Resolve(data, "age")
	if !res.IsAbsent() {
		t.Errorf("expected absent, got %+v", res)
	}
}

func TestResolve_IntermediateNonObject(t *testing.T) {
	data := map[string]any{"name": "Alice"}
	res := Resolve(data, "name.first")
	if !res.IsAbsent() {
		t.Errorf("expected absent for non-object intermediate, got %+v", res)
	}
}

func TestResolve_NullValue(t *testing.T) {
	data := map[string]any{"value": nil}
	res := Resolve(data, "value")
	if res.Kind != Scalar {
		t.Fatalf("expected scalar, got kind %v", res.Kind)
	}
	if res.Value != nil {
		t.Errorf("expected nil, got %v", res.Value)
	}
}

func TestResolve_EmptyPath(t *testing.T) {
	res := Resolve(map[string]any{"a": 1}, "")
	if !res.IsAbsent() {
		t.Errorf("expected absent for empty path, got %+v", res)
	}
}

func TestResolve_Projection(t *testing.T) {
	data := map[string]any{
		"payload": map[string]any{
			"labels": []any{
				map[string]any{"name": "bug"},
				map[string]any{"name": "urgent"},
			},
		},
	}
	res := Resolve(data, "payload.labels[].name")
	if res.Kind != Projected {
		t.Fatalf("expected projected, got kind %v", res.Kind)
	}
	if len(res.Values) != 2 || res.Values[0] != "bug" || res.Values[1] != "urgent" {
		t.Errorf("unexpected values: %v", res.Values)
	}
}

func TestResolve_ProjectionSkipsAbsentElements(t *testing.T) {
	data := map[string]any{
		"labels": []any{
			map[string]any{"name": "bug"},
			map[string]any{"color": "red"},
			"not-an-object",
		},
	}
	res := Resolve(data, "labels[].name")
	if res.Kind != Projected {
		t.Fatalf("expected projected, got kind %v", res.Kind)
	}
	if len(res.Values) != 1 || res.Values[0] != "bug" {
		t.Errorf("expected [bug], got %v", res.Values)
	}
}

func TestResolve_ProjectionEmptyArray(t *testing.T) {
	data := map[string]any{"labels": []any{}}
	res := Resolve(data, "labels[].name")
	if !res.IsAbsent() {
		t.Errorf("expected absent for empty array, got %+v", res)
	}
}

func TestResolve_ProjectionNonArray(t *testing.T) {
	data := map[string]any{"labels": "nope"}
	res := Resolve(data, "labels[].name")
	if !res.IsAbsent() {
		t.Errorf("expected absent for non-array, got %+v", res)
	}
}

func TestResolve_ProjectionRawArray(t *testing.T) {
	data := map[string]any{"tags": []any{"a", "b"}}
	res := Resolve(data, "tags[]")
	if res.Kind != Projected {
		t.Fatalf("expected projected, got kind %v", res.Kind)
	}
	if len(res.Values) != 2 || res.Values[0] != "a" {
		t.Errorf("expected raw array, got %v", res.Values)
	}
}

func TestResolve_NumericValue(t *testing.T) {
	data := map[string]any{"count": float64(42)}
	res := Resolve(data, "count")
	if res.Kind != Scalar || res.Value != float64(42) {
		t.Errorf("expected 42, got %+v", res)
	}
}
