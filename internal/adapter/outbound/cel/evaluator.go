// Package cel evaluates workflow condition expressions with CEL.
//
// Expressions see two variables: input, the workflow's input document,
// and steps, a map from completed step ID to that step's output. Both
// are dynamic maps, so conditions can reach into nested values with
// the usual dot and index syntax.
package cel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/toolchest-labs/toolchest/internal/port/outbound"
)

// maxExpressionLength is the maximum allowed length for condition expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// programCacheSize bounds the compiled-program cache. The cache is
// flushed wholesale when full; expressions are small and recompilation
// is cheap, so an eviction order is not worth tracking.
const programCacheSize = 256

var structValueType = reflect.TypeOf(&structpb.Value{})

// Evaluator compiles and evaluates workflow condition expressions.
type Evaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[uint64]cel.Program
}

// newConditionEnvironment creates the CEL environment for workflow
// conditions. Beyond the standard string and set extensions it adds
// glob(pattern, name) for shell-style matching.
func newConditionEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("steps", cel.MapType(cel.StringType, cel.DynType)),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),
	)
}

// NewEvaluator creates an Evaluator with the condition environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := newConditionEnvironment()
	if err != nil {
		return nil, fmt.Errorf("create condition environment: %w", err)
	}
	return &Evaluator{
		env:      env,
		programs: make(map[uint64]cel.Program),
	}, nil
}

// compile parses and type-checks an expression, returning a compiled
// program. Programs are cached by expression hash.
func (e *Evaluator) compile(expression string) (cel.Program, error) {
	key := xxhash.Sum64String(expression)

	e.mu.RLock()
	prg, ok := e.programs[key]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	e.mu.Lock()
	if len(e.programs) >= programCacheSize {
		e.programs = make(map[uint64]cel.Program)
	}
	e.programs[key] = prg
	e.mu.Unlock()

	return prg, nil
}

// validateNesting checks that the expression does not exceed the
// maximum allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// Check validates a condition expression without evaluating it. It
// enforces the safety limits (length, nesting depth) and performs a
// full compile so that bad expressions are rejected at save time.
func (e *Evaluator) Check(expression string) error {
	if expression == "" {
		return errors.New("expression is empty")
	}
	if len(expression) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expression), maxExpressionLength)
	}
	if err := validateNesting(expression); err != nil {
		return err
	}
	if _, err := e.compile(expression); err != nil {
		return fmt.Errorf("invalid condition expression: %w", err)
	}
	return nil
}

// Evaluate runs an expression against the workflow input and the
// completed step outputs, returning the raw result value. Evaluation
// is bounded by both the caller's context and an internal timeout.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, input, steps map[string]any) (any, error) {
	if err := e.Check(expression); err != nil {
		return nil, err
	}

	prg, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	if input == nil {
		input = map[string]any{}
	}
	if steps == nil {
		steps = map[string]any{}
	}
	activation := map[string]any{
		"input": input,
		"steps": steps,
	}

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(evalCtx, activation)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}

	native, err := nativeValue(result)
	if err != nil {
		return nil, fmt.Errorf("convert result: %w", err)
	}
	return native, nil
}

// nativeValue converts a CEL result into a plain Go value. Scalars map
// directly; structured values come back JSON-shaped (numbers inside
// lists and maps become float64).
func nativeValue(v ref.Val) (any, error) {
	switch val := v.(type) {
	case types.Bool:
		return bool(val), nil
	case types.Int:
		return int64(val), nil
	case types.Uint:
		return uint64(val), nil
	case types.Double:
		return float64(val), nil
	case types.String:
		return string(val), nil
	case types.Bytes:
		return []byte(val), nil
	case types.Null:
		return nil, nil
	}
	pb, err := v.ConvertToNative(structValueType)
	if err != nil {
		return nil, err
	}
	return pb.(*structpb.Value).AsInterface(), nil
}

// Compile-time interface verification.
var _ outbound.ConditionEvaluator = (*Evaluator)(nil)
