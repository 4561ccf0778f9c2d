package jsonpath

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

type patternKind int

const (
	patternExact patternKind = iota
	patternAnyOf
	patternRegex
	patternIsAbsent
)

// Pattern is a precompiled match pattern. Patterns are parsed once from
// configuration values and reused for every event, so regex compilation
// and list sniffing never happen on the hot path.
type Pattern struct {
	kind  patternKind
	exact any
	anyOf []Pattern
	re    *regexp.Regexp
}

// ParsePattern compiles a configuration value into a Pattern:
//
//   - nil becomes the is-absent marker
//   - a list becomes any-of over its parsed elements
//   - a string of the form /expr/ or /expr/i becomes a regex (only the
//     case-insensitive flag is supported); a string that looks like a
//     regex but does not compile falls back to exact equality against
//     the literal string
//   - anything else is an exact match
func ParsePattern(value any) Pattern {
	switch v := value.(type) {
	case nil:
		return Pattern{kind: patternIsAbsent}
	case []any:
		sub := make([]Pattern, 0, len(v))
		for _, elem := range v {
			sub = append(sub, ParsePattern(elem))
		}
		return Pattern{kind: patternAnyOf, anyOf: sub}
	case string:
		if expr, flags, ok := splitRegexLiteral(v); ok {
			if strings.Contains(flags, "i") {
				expr = "(?i)" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return Pattern{kind: patternExact, exact: v}
			}
			return Pattern{kind: patternRegex, re: re}
		}
		return Pattern{kind: patternExact, exact: v}
	default:
		return Pattern{kind: patternExact, exact: v}
	}
}

// AnyOf builds an any-of pattern from already-parsed sub-patterns.
func AnyOf(patterns ...Pattern) Pattern {
	return Pattern{kind: patternAnyOf, anyOf: patterns}
}

// splitRegexLiteral recognizes /expr/flags strings.
func splitRegexLiteral(s string) (expr, flags string, ok bool) {
	if len(s) < 2 || !strings.HasPrefix(s, "/") {
		return "", "", false
	}
	end := strings.LastIndex(s[1:], "/")
	if end < 0 {
		return "", "", false
	}
	end++ // index into s
	return s[1:end], s[end+1:], true
}

// Matches tests a resolved value against the pattern. It never panics;
// every error path degrades to "no match".
//
//   - an is-absent pattern matches absent and null values
//   - an any-of pattern matches if any element pattern matches
//   - a projected result matches if any of its elements matches
//   - a regex pattern is tested against the string form of the value
//   - everything else is strict equality
func (p Pattern) Matches(res Result) bool {
	if p.kind == patternIsAbsent {
		return res.IsAbsent() || (res.Kind == Scalar && res.Value == nil)
	}
	if p.kind == patternAnyOf {
		for _, sub := range p.anyOf {
			if sub.Matches(res) {
				return true
			}
		}
		return false
	}
	if res.Kind == Projected {
		for _, elem := range res.Values {
			if p.Matches(Result{Kind: Scalar, Value: elem}) {
				return true
			}
		}
		return false
	}
	if res.Kind == Absent {
		return false
	}
	switch p.kind {
	case patternRegex:
		return p.re.MatchString(stringify(res.Value))
	default:
		return valuesEqual(res.Value, p.exact)
	}
}

// stringify renders a value the way fmt would, which is how regex and
// dedup key construction see scalars.
func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// valuesEqual compares a resolved JSON value against a configured one.
// JSON decoding yields float64 where YAML configuration yields int, so
// numbers compare numerically across the two.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == expected
	}
	af, aok := asFloat(actual)
	ef, eok := asFloat(expected)
	if aok && eok {
		return af == ef
	}
	// DeepEqual rather than == so uncomparable values (maps, slices)
	// degrade to false instead of panicking.
	return reflect.DeepEqual(actual, expected)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
