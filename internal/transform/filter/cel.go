package filter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"
)

// envelopeVars are the envelope fields exposed as top-level CEL variables.
var envelopeVars = []string{"id", "timestamp", "source", "type", "provenance", "payload", "trace_id"}

// CELEvaluator is an in-process Evaluator backed by a compiled CEL
// program. It satisfies the same output contract as a jq subprocess:
// null/false drops, an object with an id replaces, anything else passes.
type CELEvaluator struct {
	program cel.Program
}

// NewCELEvaluator compiles the expression once. Envelope fields are
// available as top-level variables, e.g. `payload.state == "open"`.
func NewCELEvaluator(expression string) (*CELEvaluator, error) {
	declarations := make([]cel.EnvOption, 0, len(envelopeVars)+3)
	for _, name := range envelopeVars {
		declarations = append(declarations, cel.Variable(name, cel.DynType))
	}
	declarations = append(declarations, ext.Strings(), ext.Encoders(), ext.Math())

	env, err := cel.NewEnv(declarations...)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}

	return &CELEvaluator{program: prg}, nil
}

// Evaluate runs the program against the serialized event. Evaluation runs
// in a goroutine so the caller's deadline bounds wall-clock time.
func (e *CELEvaluator) Evaluate(ctx context.Context, input []byte) ([]byte, error) {
	var parsed map[string]any
	if err := json.Unmarshal(input, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	activation := make(map[string]any, len(envelopeVars))
	for _, name := range envelopeVars {
		activation[name] = parsed[name]
	}

	type result struct {
		val any
		err error
	}
	ch := make(chan result, 1)

	go func() {
		out, _, err := e.program.Eval(activation)
		if err != nil {
			ch <- result{err: fmt.Errorf("cel eval: %w", err)}
			return
		}
		ch <- result{val: toNative(out)}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("evaluator timed out: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		output, err := json.Marshal(r.val)
		if err != nil {
			return nil, fmt.Errorf("marshal output: %w", err)
		}
		return output, nil
	}
}

// toNative recursively converts CEL ref.Val types to native Go types that
// json.Marshal can handle.
func toNative(val any) any {
	switch v := val.(type) {
	case traits.Mapper:
		it := v.Iterator()
		m := make(map[string]any)
		for it.HasNext() == types.True {
			key := it.Next()
			m[fmt.Sprint(key.Value())] = toNative(v.Get(key))
		}
		return m
	case traits.Lister:
		it := v.Iterator()
		var list []any
		for it.HasNext() == types.True {
			list = append(list, toNative(it.Next()))
		}
		return list
	default:
		if rv, ok := val.(types.Int); ok {
			return int64(rv)
		}
		if rv, ok := val.(types.Double); ok {
			return float64(rv)
		}
		if rv, ok := val.(types.String); ok {
			return string(rv)
		}
		if rv, ok := val.(types.Bool); ok {
			return bool(rv)
		}
		if rv, ok := val.(interface{ Value() any }); ok {
			return rv.Value()
		}
		return val
	}
}
