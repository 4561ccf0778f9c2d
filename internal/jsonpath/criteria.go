package jsonpath

import "sort"

// Criterion pairs a dot-path with the pattern its resolved value must
// satisfy.
type Criterion struct {
	Path    string
	Pattern Pattern
}

// ParseCriteria compiles a configuration criteria map into an ordered
// criterion list. Maps carry no order, so criteria are sorted by path to
// keep evaluation deterministic.
func ParseCriteria(criteria map[string]any) []Criterion {
	out := make([]Criterion, 0, len(criteria))
	for path, value := range criteria {
		out = append(out, Criterion{Path: path, Pattern: ParsePattern(value)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Satisfies reports whether the data satisfies the criterion.
func (c Criterion) Satisfies(data map[string]any) bool {
	return c.Pattern.Matches(Resolve(data, c.Path))
}
