// Package outbound defines the outbound port interfaces the services
// depend on: code execution, dependency installation, and LLM access.
// Adapters implement these against concrete backends.
package outbound

import (
	"context"

	"github.com/toolchest-labs/toolchest/internal/domain/tool"
)

// RunResult is the raw outcome of one sandboxed code execution.
type RunResult struct {
	// Value is the script's result value, converted to plain Go types
	// (map[string]any, []any, string, float64, int64, bool, nil).
	Value any
	// Logs are the lines the script emitted, oldest first.
	Logs []tool.LogEntry
}

// CodeRunner executes tool code in a sandbox.
//
// Adapters: starlark package.
type CodeRunner interface {
	// Run executes the version's code against the validated input and
	// returns its result value. Script failures, timeouts, and resource
	// limit violations are returned as errors; the caller folds them
	// into an ExecutionResult rather than propagating them.
	Run(ctx context.Context, version *tool.Version, input map[string]any) (*RunResult, error)
}
