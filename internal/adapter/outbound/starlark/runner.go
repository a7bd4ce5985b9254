// Package starlark executes tool code in an isolated Starlark
// interpreter. The sandbox exposes only the validated input and a log
// facility; there is no filesystem, network, or process access.
package starlark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/toolchest-labs/toolchest/internal/domain/tool"
	"github.com/toolchest-labs/toolchest/internal/port/outbound"
)

// maxCodeSize is the maximum allowed tool code size in bytes.
const maxCodeSize = 64 * 1024

// defaultMaxSteps bounds interpreter work to prevent runaway loops.
const defaultMaxSteps = 500_000

// DefaultExecTimeout is the wall-clock limit for one execution.
const DefaultExecTimeout = 10 * time.Second

// maxLogEntries caps the captured log sequence per run.
const maxLogEntries = 1000

// fileOptions allows top-level control flow and while loops, which
// generated tool snippets use freely. Recursion stays disabled.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Runner implements outbound.CodeRunner on a Starlark interpreter.
type Runner struct {
	installer outbound.PackageInstaller
	timeout   time.Duration
	maxSteps  uint64
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout sets the per-execution wall-clock limit.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithMaxSteps sets the interpreter step budget.
func WithMaxSteps(n uint64) Option {
	return func(r *Runner) {
		r.maxSteps = n
	}
}

// NewRunner creates a Runner. installer provisions a version's
// npm-package dependencies before the sandbox starts; it may be nil
// when package installation is handled elsewhere.
func NewRunner(installer outbound.PackageInstaller, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		installer: installer,
		timeout:   DefaultExecTimeout,
		maxSteps:  defaultMaxSteps,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the version's code against the validated input. The
// returned RunResult carries captured logs even when err is non-nil,
// so callers can surface them alongside the failure.
func (r *Runner) Run(ctx context.Context, version *tool.Version, input map[string]any) (*outbound.RunResult, error) {
	sink := &logSink{max: maxLogEntries, logger: r.logger}
	res := &outbound.RunResult{}

	if len(version.Code) == 0 {
		return res, errors.New("tool code is empty")
	}
	if len(version.Code) > maxCodeSize {
		return res, fmt.Errorf("tool code too large: %d bytes (max %d)", len(version.Code), maxCodeSize)
	}

	// Provision npm-package dependencies first. Install time counts
	// toward the execution clock kept by the caller.
	if err := r.ensurePackages(ctx, version, sink); err != nil {
		res.Logs = sink.entries()
		return res, err
	}

	inputValue, err := goToStarlark(input)
	if err != nil {
		res.Logs = sink.entries()
		return res, fmt.Errorf("convert input: %w", err)
	}

	thread := &starlark.Thread{
		Name: "tool",
		Print: func(_ *starlark.Thread, msg string) {
			sink.append(tool.LogLevelInfo, msg)
		},
	}
	thread.SetMaxExecutionSteps(r.maxSteps)

	// Watchdog cancels the interpreter when the deadline passes.
	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	watchdogDone := make(chan struct{})
	var watchdogWG sync.WaitGroup
	watchdogWG.Add(1)
	go func() {
		defer watchdogWG.Done()
		select {
		case <-execCtx.Done():
			reason := "execution cancelled"
			if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
				reason = "execution timeout"
			}
			thread.Cancel(reason)
		case <-watchdogDone:
		}
	}()
	defer func() {
		close(watchdogDone)
		watchdogWG.Wait()
	}()

	predeclared := starlark.StringDict{
		"input":     inputValue,
		"log":       logBuiltin("log", sink, tool.LogLevelInfo),
		"log_warn":  logBuiltin("log_warn", sink, tool.LogLevelWarn),
		"log_error": logBuiltin("log_error", sink, tool.LogLevelError),
	}

	globals, err := starlark.ExecFileOptions(fileOptions, thread, "tool.star", version.Code, predeclared)
	if err != nil {
		res.Logs = sink.entries()
		return res, r.classifyError(err)
	}

	value, err := resultValue(thread, globals, inputValue)
	if err != nil {
		res.Logs = sink.entries()
		return res, r.classifyError(err)
	}

	goValue, err := starlarkToGo(value)
	if err != nil {
		res.Logs = sink.entries()
		return res, fmt.Errorf("convert result: %w", err)
	}

	res.Value = goValue
	res.Logs = sink.entries()
	return res, nil
}

// ensurePackages installs the version's npm-package dependencies.
// Optional dependencies may fail without aborting the run.
func (r *Runner) ensurePackages(ctx context.Context, version *tool.Version, sink *logSink) error {
	if r.installer == nil {
		return nil
	}
	for _, dep := range version.Dependencies {
		if dep.Type != tool.DependencyTypeNPMPackage {
			continue
		}
		result, err := r.installer.EnsurePackage(ctx, dep.Name, dep.Version, dep.Type)
		if err != nil {
			if dep.Optional {
				sink.append(tool.LogLevelWarn, fmt.Sprintf("optional dependency %s@%s failed: %v", dep.Name, dep.Version, err))
				continue
			}
			return fmt.Errorf("dependency install failed: %s@%s: %w", dep.Name, dep.Version, err)
		}
		if !result.Installed {
			if dep.Optional {
				sink.append(tool.LogLevelWarn, fmt.Sprintf("optional dependency %s@%s failed: %s", dep.Name, dep.Version, result.Error))
				continue
			}
			return fmt.Errorf("dependency install failed: %s@%s: %s", dep.Name, dep.Version, result.Error)
		}
		if result.Skipped {
			sink.append(tool.LogLevelInfo, fmt.Sprintf("dependency %s@%s already installed", dep.Name, dep.Version))
		} else {
			sink.append(tool.LogLevelInfo, fmt.Sprintf("installed dependency %s@%s via %s", dep.Name, dep.Version, result.Manager))
		}
	}
	return nil
}

// classifyError maps interpreter errors to stable, caller-visible
// messages. Timeouts keep their distinct prefix.
func (r *Runner) classifyError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "execution timeout") {
		return fmt.Errorf("execution timeout after %v", r.timeout)
	}
	if strings.Contains(msg, "execution cancelled") {
		return errors.New("execution cancelled")
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return fmt.Errorf("execution failed: %s", evalErr.Msg)
	}
	return fmt.Errorf("execution failed: %s", msg)
}

// resultValue extracts the run's value: main(input)'s return when the
// snippet defines main, otherwise the global named result.
func resultValue(thread *starlark.Thread, globals starlark.StringDict, input starlark.Value) (starlark.Value, error) {
	if mainFn, ok := globals["main"]; ok {
		if callable, ok := mainFn.(starlark.Callable); ok {
			return starlark.Call(thread, callable, starlark.Tuple{input}, nil)
		}
	}
	if result, ok := globals["result"]; ok {
		return result, nil
	}
	return nil, errors.New("tool code must assign 'result' or define 'main(input)'")
}

// logSink accumulates capped log entries and mirrors them to slog.
type logSink struct {
	mu     sync.Mutex
	lines  []tool.LogEntry
	max    int
	logger *slog.Logger
}

func (s *logSink) append(level tool.LogLevel, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) >= s.max {
		return
	}
	s.lines = append(s.lines, tool.LogEntry{
		Level:   level,
		Message: message,
		Time:    time.Now().UTC(),
	})
	if s.logger != nil {
		s.logger.Debug("tool log", "level", level, "message", message)
	}
}

func (s *logSink) entries() []tool.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tool.LogEntry(nil), s.lines...)
}

// logBuiltin builds a Starlark function that appends its arguments,
// space-joined, to the sink at the given level.
func logBuiltin(name string, sink *logSink, level tool.LogLevel) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", name)
		}
		parts := make([]string, len(args))
		for i, arg := range args {
			if s, ok := starlark.AsString(arg); ok {
				parts[i] = s
			} else {
				parts[i] = arg.String()
			}
		}
		sink.append(level, strings.Join(parts, " "))
		return starlark.None, nil
	})
}

// Compile-time interface verification.
var _ outbound.CodeRunner = (*Runner)(nil)
