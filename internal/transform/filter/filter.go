// Package filter implements the declarative exclude/match/match_any event
// gate and the expression-evaluator escape hatch.
package filter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/OrgLoop/orgloop-sub001/internal/event"
	"github.com/OrgLoop/orgloop-sub001/internal/jsonpath"
)

// EvaluatorTimeout is the hard wall-clock bound on one evaluator call.
const EvaluatorTimeout = 5 * time.Second

// Evaluator runs a user-supplied expression against a serialized event.
// Implementations must honor context cancellation; the filter enforces
// EvaluatorTimeout around every call.
type Evaluator interface {
	Evaluate(ctx context.Context, input []byte) ([]byte, error)
}

// EvaluatorError reports an evaluator that exited nonzero, timed out, or
// produced unparsable output. The filter drops the event in every such
// case: a broken expression is a configuration defect that should surface,
// not silently pass traffic.
type EvaluatorError struct {
	Expr string
	Err  error
}

func (e *EvaluatorError) Error() string {
	return fmt.Sprintf("evaluator %q: %v", e.Expr, e.Err)
}

func (e *EvaluatorError) Unwrap() error { return e.Err }

// Config carries the declarative criteria maps and the optional evaluator
// expression. At most the jq expression or the criteria maps take effect:
// jq has absolute precedence.
type Config struct {
	Exclude  map[string]any `yaml:"exclude,omitempty"`
	Match    map[string]any `yaml:"match,omitempty"`
	MatchAny map[string]any `yaml:"match_any,omitempty"`
	JQ       string         `yaml:"jq,omitempty"`
}

// Filter is a compiled filter transform. All patterns are parsed once at
// construction.
type Filter struct {
	exclude   []jsonpath.Criterion
	match     []jsonpath.Criterion
	matchAny  []jsonpath.Criterion
	expr      string
	evaluator Evaluator
	logger    *slog.Logger
}

// New compiles a filter from configuration. When cfg.JQ is set, evaluator
// must be non-nil.
func New(cfg Config, evaluator Evaluator, logger *slog.Logger) (*Filter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JQ != "" && evaluator == nil {
		return nil, fmt.Errorf("filter has jq expression but no evaluator")
	}
	return &Filter{
		exclude:   parseCriteria(cfg.Exclude),
		match:     parseCriteria(cfg.Match),
		matchAny:  parseCriteria(cfg.MatchAny),
		expr:      cfg.JQ,
		evaluator: evaluator,
		logger:    logger,
	}, nil
}

// parseCriteria compiles a criteria map, splitting comma-separated string
// values into any-of lists first. The split happens here, at load time,
// never per event.
func parseCriteria(criteria map[string]any) []jsonpath.Criterion {
	if len(criteria) == 0 {
		return nil
	}
	expanded := make(map[string]any, len(criteria))
	for path, value := range criteria {
		expanded[path] = splitCommaList(value)
	}
	return jsonpath.ParseCriteria(expanded)
}

// splitCommaList turns "a, b,c" into ["a","b","c"]. Non-strings and
// strings without commas pass through unchanged.
func splitCommaList(value any) any {
	s, ok := value.(string)
	if !ok || !strings.Contains(s, ",") {
		return value
	}
	parts := strings.Split(s, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// Apply evaluates the filter. Order is fixed regardless of configuration
// field order: jq preempts everything; then exclude (OR, drop on any hit),
// match (AND, drop on any miss), match_any (OR, drop when none hit).
// With nothing configured the event passes unchanged.
func (f *Filter) Apply(ctx context.Context, evt *event.Envelope) (*event.Envelope, error) {
	if f.expr != "" {
		return f.applyEvaluator(ctx, evt)
	}

	data := evt.AsMap()

	for _, c := range f.exclude {
		if c.Satisfies(data) {
			f.logger.Debug("event excluded", "event_id", evt.ID, "path", c.Path)
			return nil, nil
		}
	}
	for _, c := range f.match {
		if !c.Satisfies(data) {
			f.logger.Debug("event failed match criterion", "event_id", evt.ID, "path", c.Path)
			return nil, nil
		}
	}
	if len(f.matchAny) > 0 {
		hit := false
		for _, c := range f.matchAny {
			if c.Satisfies(data) {
				hit = true
				break
			}
		}
		if !hit {
			f.logger.Debug("event failed all match_any criteria", "event_id", evt.ID)
			return nil, nil
		}
	}
	return evt, nil
}

// applyEvaluator hands the serialized event to the evaluator and maps its
// output onto the replace/pass/drop contract. Evaluator failures are
// fail-closed, unlike the declarative criteria which are fail-open on
// missing fields.
func (f *Filter) applyEvaluator(ctx context.Context, evt *event.Envelope) (*event.Envelope, error) {
	input, err := json.Marshal(evt)
	if err != nil {
		return nil, &EvaluatorError{Expr: f.expr, Err: fmt.Errorf("serialize event: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, EvaluatorTimeout)
	defer cancel()

	output, err := f.evaluator.Evaluate(ctx, input)
	if err != nil {
		return nil, &EvaluatorError{Expr: f.expr, Err: err}
	}

	output = bytes.TrimSpace(output)
	if len(output) == 0 {
		return nil, nil
	}

	var value any
	if err := json.Unmarshal(output, &value); err != nil {
		return nil, &EvaluatorError{Expr: f.expr, Err: fmt.Errorf("unparsable output: %w", err)}
	}

	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool:
		if !v {
			return nil, nil
		}
		return evt, nil
	case map[string]any:
		if _, hasID := v["id"]; hasID {
			var replaced event.Envelope
			if err := json.Unmarshal(output, &replaced); err != nil {
				return nil, &EvaluatorError{Expr: f.expr, Err: fmt.Errorf("replacement event: %w", err)}
			}
			return &replaced, nil
		}
		// An object without an id is just a truthy value.
		return evt, nil
	default:
		// Strings, numbers, arrays: truthy, pass unchanged.
		return evt, nil
	}
}

// Close is a no-op; compiled criteria hold no resources.
func (f *Filter) Close() error { return nil }
