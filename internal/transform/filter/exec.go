package filter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// ExecEvaluator runs an external expression program (jq by convention)
// as a subprocess per call: the event is written to stdin, the result is
// read from stdout. CommandContext kills the subprocess when the filter's
// timeout expires.
type ExecEvaluator struct {
	program string
	expr    string
}

// NewExecEvaluator creates an evaluator for the given program and
// expression. Program defaults to "jq".
func NewExecEvaluator(program, expr string) (*ExecEvaluator, error) {
	if expr == "" {
		return nil, fmt.Errorf("expression is required")
	}
	if program == "" {
		program = "jq"
	}
	return &ExecEvaluator{program: program, expr: expr}, nil
}

// Evaluate runs the subprocess once. A nonzero exit or a killed process
// surfaces as an error; interpreting stdout is the caller's job.
func (e *ExecEvaluator) Evaluate(ctx context.Context, input []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.program, "-c", e.expr)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("evaluator timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("evaluator exited: %w (stderr: %s)", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
