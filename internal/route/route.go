// Package route matches events against declarative route predicates.
package route

import (
	"fmt"

	"github.com/OrgLoop/orgloop-sub001/internal/event"
	"github.com/OrgLoop/orgloop-sub001/internal/jsonpath"
)

// Route is a compiled route predicate. Routes are built from configuration
// at load time and are read-only afterwards.
type Route struct {
	Name   string
	Source string
	Events []event.Type
	Filter []jsonpath.Criterion
}

// New compiles a route predicate. The filter criteria map is parsed once
// here; Match never re-parses patterns.
func New(name, source string, events []event.Type, filter map[string]any) (Route, error) {
	if name == "" {
		return Route{}, fmt.Errorf("route missing name")
	}
	if source == "" {
		return Route{}, fmt.Errorf("route %q missing source", name)
	}
	if len(events) == 0 {
		return Route{}, fmt.Errorf("route %q has no events", name)
	}
	for _, t := range events {
		if !event.ValidType(t) {
			return Route{}, fmt.Errorf("route %q has unknown event type %q", name, t)
		}
	}
	return Route{
		Name:   name,
		Source: source,
		Events: events,
		Filter: jsonpath.ParseCriteria(filter),
	}, nil
}

// Matches reports whether the route's predicate accepts the event: the
// source must be equal, the type must be a member of the route's event
// set, and every filter criterion must hold.
func (r Route) Matches(evt *event.Envelope) bool {
	if evt.Source != r.Source {
		return false
	}
	if !containsType(r.Events, evt.Type) {
		return false
	}
	if len(r.Filter) == 0 {
		return true
	}
	data := evt.AsMap()
	for _, c := range r.Filter {
		if !c.Satisfies(data) {
			return false
		}
	}
	return true
}

// Match returns every route whose predicate accepts the event, preserving
// the input order. Multiple routes may match the same event.
func Match(evt *event.Envelope, routes []Route) []Route {
	var matched []Route
	for _, r := range routes {
		if r.Matches(evt) {
			matched = append(matched, r)
		}
	}
	return matched
}

func containsType(types []event.Type, t event.Type) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
