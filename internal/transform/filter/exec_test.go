package filter

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNewExecEvaluator_RequiresExpression(t *testing.T) {
	if _, err := NewExecEvaluator("jq", ""); err == nil {
		t.Fatal("expected error for empty expression")
	}
}

func TestExecEvaluator_CapturesStdout(t *testing.T) {
	// sh -c mirrors jq -c closely enough to exercise the subprocess
	// plumbing without requiring jq on the test host.
	eval, err := NewExecEvaluator("sh", `echo '{"ok":true}'`)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	out, err := eval.Evaluate(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if strings.TrimSpace(string(out)) != `{"ok":true}` {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestExecEvaluator_ReadsStdin(t *testing.T) {
	eval, err := NewExecEvaluator("sh", "cat")
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	out, err := eval.Evaluate(context.Background(), []byte(`{"echoed":1}`))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if strings.TrimSpace(string(out)) != `{"echoed":1}` {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestExecEvaluator_NonzeroExit(t *testing.T) {
	eval, err := NewExecEvaluator("sh", "exit 3")
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	if _, err := eval.Evaluate(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("expected error for nonzero exit")
	}
}

func TestExecEvaluator_Timeout(t *testing.T) {
	eval, err := NewExecEvaluator("sh", "sleep 5")
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = eval.Evaluate(ctx, []byte(`{}`))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout in error, got %v", err)
	}
}
