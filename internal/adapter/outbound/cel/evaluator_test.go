package cel

import (
	"context"
	"strings"
	"testing"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	if eval == nil {
		t.Fatal("NewEvaluator() returned nil")
	}
}

func TestCheck_ValidExpressions(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	tests := []string{
		`input.language == "en"`,
		`input.text.startsWith("http")`,
		`steps.summarize.words > 100`,
		`input.tags.exists(tag, tag == "urgent")`,
		`glob("report-*", input.name)`,
		`size(input.text) < 5000`,
		`true`,
	}

	for _, expr := range tests {
		if err := eval.Check(expr); err != nil {
			t.Errorf("Check(%q) error: %v", expr, err)
		}
	}
}

func TestCheck_InvalidExpression(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	if err := eval.Check(`this is not valid CEL !!!`); err == nil {
		t.Fatal("Check() expected error for invalid expression, got nil")
	}
}

func TestCheck_UnknownVariable(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	if err := eval.Check(`output.value > 3`); err == nil {
		t.Fatal("Check() expected error for unknown variable, got nil")
	}
}

func TestCheck_EmptyExpression(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	err = eval.Check("")
	if err == nil {
		t.Fatal("Check() expected error for empty expression, got nil")
	}
	if !strings.Contains(err.Error(), "empty") {
		t.Errorf("error = %q, want mention of empty", err)
	}
}

func TestCheck_ExpressionTooLong(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	long := `input.text == "` + strings.Repeat("a", maxExpressionLength) + `"`
	err = eval.Check(long)
	if err == nil {
		t.Fatal("Check() expected error for oversized expression, got nil")
	}
	if !strings.Contains(err.Error(), "too long") {
		t.Errorf("error = %q, want mention of too long", err)
	}
}

func TestCheck_NestingTooDeep(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	deep := strings.Repeat("(", maxNestingDepth+1) + "true" + strings.Repeat(")", maxNestingDepth+1)
	err = eval.Check(deep)
	if err == nil {
		t.Fatal("Check() expected error for deep nesting, got nil")
	}
	if !strings.Contains(err.Error(), "nesting too deep") {
		t.Errorf("error = %q, want mention of nesting", err)
	}
}

func TestEvaluate_BoolResult(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	input := map[string]any{"language": "en"}
	result, err := eval.Evaluate(context.Background(), `input.language == "en"`, input, nil)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result != true {
		t.Errorf("result = %v, want true", result)
	}

	result, err = eval.Evaluate(context.Background(), `input.language == "de"`, input, nil)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result != false {
		t.Errorf("result = %v, want false", result)
	}
}

func TestEvaluate_StringResult(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	input := map[string]any{"kind": "pdf"}
	result, err := eval.Evaluate(context.Background(), `input.kind`, input, nil)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result != "pdf" {
		t.Errorf("result = %v, want pdf", result)
	}
}

func TestEvaluate_StepOutputs(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	steps := map[string]any{
		"count-words": map[string]any{"words": int64(120)},
	}
	result, err := eval.Evaluate(context.Background(), `steps["count-words"].words > 100`, nil, steps)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result != true {
		t.Errorf("result = %v, want true", result)
	}
}

func TestEvaluate_IntResult(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	result, err := eval.Evaluate(context.Background(), `2 + 3`, nil, nil)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if got, ok := result.(int64); !ok || got != 5 {
		t.Errorf("result = %v (%T), want 5 (int64)", result, result)
	}
}

func TestEvaluate_ListResult(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	result, err := eval.Evaluate(context.Background(), `["a", "b"]`, nil, nil)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	list, ok := result.([]any)
	if !ok {
		t.Fatalf("result is %T, want []any", result)
	}
	if len(list) != 2 || list[0] != "a" || list[1] != "b" {
		t.Errorf("result = %v, want [a b]", list)
	}
}

func TestEvaluate_MissingKeyFails(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	_, err = eval.Evaluate(context.Background(), `input.absent == "x"`, map[string]any{"present": "y"}, nil)
	if err == nil {
		t.Fatal("Evaluate() expected error for missing key, got nil")
	}
	if !strings.Contains(err.Error(), "evaluation failed") {
		t.Errorf("error = %q, want evaluation failed", err)
	}
}

func TestEvaluate_GlobFunction(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	input := map[string]any{"name": "report-2026-08"}
	result, err := eval.Evaluate(context.Background(), `glob("report-*", input.name)`, input, nil)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result != true {
		t.Errorf("result = %v, want true", result)
	}
}

func TestEvaluate_CancelledContext(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Cancellation is observed at comprehension interrupt checks, so the
	// loop has to run long enough to hit one.
	tags := make([]any, 10_000)
	for i := range tags {
		tags[i] = "tag"
	}
	_, err = eval.Evaluate(ctx, `input.tags.exists(tag, tag == "never")`, map[string]any{"tags": tags}, nil)
	if err == nil {
		t.Fatal("Evaluate() expected error for cancelled context, got nil")
	}
}

func TestEvaluate_CachesPrograms(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	const expr = `input.n > 1`
	for i := 0; i < 3; i++ {
		if _, err := eval.Evaluate(context.Background(), expr, map[string]any{"n": int64(5)}, nil); err != nil {
			t.Fatalf("Evaluate() error: %v", err)
		}
	}

	eval.mu.RLock()
	cached := len(eval.programs)
	eval.mu.RUnlock()
	if cached != 1 {
		t.Errorf("cached programs = %d, want 1", cached)
	}
}
