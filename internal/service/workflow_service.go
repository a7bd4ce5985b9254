package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/toolchest-labs/toolchest/internal/domain/event"
	"github.com/toolchest-labs/toolchest/internal/domain/tool"
	"github.com/toolchest-labs/toolchest/internal/domain/workflow"
	"github.com/toolchest-labs/toolchest/internal/port/outbound"
)

const (
	// defaultStepAttempts is how many times a failing step is executed
	// when it carries no retry policy of its own.
	defaultStepAttempts = 3
	// defaultRetryBaseDelay is the first retry delay; it doubles per
	// retry up to defaultRetryMaxDelay.
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 30 * time.Second
	// terminalWriteTimeout bounds the detached writes that persist a
	// finished execution after the run context is gone.
	terminalWriteTimeout = 5 * time.Second
)

// ToolExecutor is the slice of the tool registry the workflow engine
// depends on: execute a named tool against its current version.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, name string, input map[string]any) *tool.ExecutionResult
}

// WorkflowService owns workflow definitions and drives their execution:
// steps run strictly in array order, prior outputs feed later inputs
// through declared mappings, conditions gate steps, and failing steps
// retry with exponential backoff before the run fails fast.
//
// Step-level outcomes are data on the returned Execution; a Go error
// means the workflow is unknown or the infrastructure rejected the run.
// Live executions are pollable through the execution store while the
// engine mutates its own record; terminal executions are additionally
// persisted to history.
type WorkflowService struct {
	workflows  workflow.Store
	executions workflow.ExecutionStore
	history    workflow.HistoryStore
	executor   ToolExecutor
	conditions outbound.ConditionEvaluator
	recorder   *ExecutionRecorder
	metrics    *EngineMetrics
	logger     *slog.Logger

	maxAttempts    int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	runs    sync.WaitGroup
}

// WorkflowOption configures a WorkflowService.
type WorkflowOption func(*WorkflowService)

// WithRetryConfig overrides the engine's default retry behavior:
// maxAttempts executions per step, delays of base doubling per retry,
// capped at maxDelay.
func WithRetryConfig(maxAttempts int, base, maxDelay time.Duration) WorkflowOption {
	return func(s *WorkflowService) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if base > 0 {
			s.retryBaseDelay = base
		}
		if maxDelay > 0 {
			s.retryMaxDelay = maxDelay
		}
	}
}

// WithEngineMetrics wires Prometheus metrics into the engine.
func WithEngineMetrics(m *EngineMetrics) WorkflowOption {
	return func(s *WorkflowService) { s.metrics = m }
}

// NewWorkflowService creates a WorkflowService. The history store,
// recorder, and metrics may be nil; execution history, activity
// records, and metrics degrade gracefully.
func NewWorkflowService(
	store workflow.Store,
	executions workflow.ExecutionStore,
	history workflow.HistoryStore,
	executor ToolExecutor,
	conditions outbound.ConditionEvaluator,
	recorder *ExecutionRecorder,
	logger *slog.Logger,
	opts ...WorkflowOption,
) *WorkflowService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &WorkflowService{
		workflows:      store,
		executions:     executions,
		history:        history,
		executor:       executor,
		conditions:     conditions,
		recorder:       recorder,
		logger:         logger,
		maxAttempts:    defaultStepAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		retryMaxDelay:  defaultRetryMaxDelay,
		cancels:        make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stop cancels every tracked execution and waits for background runs
// to unwind.
func (s *WorkflowService) Stop() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.runs.Wait()
}

// SaveWorkflow validates and persists a new workflow, assigning a UUID
// when the definition carries none, and returns the stored workflow.
// Condition expressions must compile at save time so broken branches
// are rejected before any execution exists. Step tool names are not
// resolved here; workflows may be authored before their tools.
func (s *WorkflowService) SaveWorkflow(ctx context.Context, w *workflow.Workflow) (*workflow.Workflow, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: workflow is nil", workflow.ErrInvalidWorkflow)
	}
	saved := w.Clone()
	saved.Name = strings.TrimSpace(saved.Name)
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}
	if err := saved.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkConditions(saved); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	saved.CreatedAt = now
	saved.UpdatedAt = now
	saved.Metadata.LastRun = nil
	saved.Metadata.RunCount = 0

	if err := s.workflows.Create(ctx, saved); err != nil {
		return nil, err
	}

	s.emit(event.KindWorkflowSaved, saved.ID, saved.Name)
	s.logger.Info("workflow saved",
		"id", saved.ID,
		"name", saved.Name,
		"steps", len(saved.Steps))
	return saved, nil
}

// UpdateWorkflow merges non-zero fields of updates into the stored
// workflow and re-validates the result. The ID is immutable; run
// metadata stays engine-owned.
func (s *WorkflowService) UpdateWorkflow(ctx context.Context, id string, updates *workflow.Workflow) (*workflow.Workflow, error) {
	if updates == nil {
		return nil, fmt.Errorf("%w: no updates provided", workflow.ErrInvalidWorkflow)
	}
	existing, err := s.workflows.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := existing.Clone()
	if name := strings.TrimSpace(updates.Name); name != "" {
		merged.Name = name
	}
	if updates.Description != "" {
		merged.Description = updates.Description
	}
	if len(updates.Steps) > 0 {
		clone := updates.Clone()
		merged.Steps = clone.Steps
	}
	if updates.Metadata.Author != "" {
		merged.Metadata.Author = updates.Metadata.Author
	}
	if updates.Metadata.Tags != nil {
		merged.Metadata.Tags = append([]string(nil), updates.Metadata.Tags...)
	}
	merged.ID = id
	merged.UpdatedAt = time.Now().UTC()

	if err := merged.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkConditions(merged); err != nil {
		return nil, err
	}
	if err := s.workflows.Update(ctx, merged); err != nil {
		return nil, err
	}

	s.emit(event.KindWorkflowSaved, merged.ID, merged.Name)
	s.logger.Info("workflow updated", "id", merged.ID, "name", merged.Name)
	return merged, nil
}

// DeleteWorkflow removes a workflow definition. Past executions stay
// queryable.
func (s *WorkflowService) DeleteWorkflow(ctx context.Context, id string) error {
	if err := s.workflows.Delete(ctx, id); err != nil {
		return err
	}
	s.emit(event.KindWorkflowDeleted, id, "")
	s.logger.Info("workflow deleted", "id", id)
	return nil
}

// GetWorkflow returns the workflow with the ID.
func (s *WorkflowService) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	return s.workflows.Get(ctx, id)
}

// ListWorkflows returns all workflow definitions.
func (s *WorkflowService) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	return s.workflows.List(ctx)
}

// checkConditions compiles every step condition so definition errors
// surface at save time instead of mid-run.
func (s *WorkflowService) checkConditions(w *workflow.Workflow) error {
	if s.conditions == nil {
		return nil
	}
	for _, step := range w.Steps {
		if step.Condition == nil {
			continue
		}
		if err := s.conditions.Check(step.Condition.Expression); err != nil {
			return fmt.Errorf("%w: step %q condition: %v", workflow.ErrInvalidWorkflow, step.ID, err)
		}
	}
	return nil
}

// ExecuteWorkflow runs a workflow synchronously and returns the
// terminal execution. The execution is registered in the live store
// before the first step, so its progress is pollable mid-flight.
// An error is returned only when the workflow is unknown or the
// execution cannot be registered; step failures are recorded on the
// execution itself.
func (s *WorkflowService) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any) (*workflow.Execution, error) {
	wf, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	exec := newExecution(wf)
	if err := s.executions.Put(ctx, exec); err != nil {
		return nil, fmt.Errorf("register execution: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.trackCancel(exec.ID, cancel)
	defer func() {
		s.untrackCancel(exec.ID)
		cancel()
	}()

	s.execute(runCtx, wf, exec, input)
	return exec.Clone(), nil
}

// StartWorkflow launches a workflow run in the background and returns
// its execution ID immediately. The run is detached from the caller's
// context; stop it with CancelExecution.
func (s *WorkflowService) StartWorkflow(ctx context.Context, workflowID string, input map[string]any) (string, error) {
	wf, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return "", err
	}

	exec := newExecution(wf)
	if err := s.executions.Put(ctx, exec); err != nil {
		return "", fmt.Errorf("register execution: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.trackCancel(exec.ID, cancel)

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer func() {
			s.untrackCancel(exec.ID)
			cancel()
		}()
		s.execute(runCtx, wf, exec, input)
	}()

	return exec.ID, nil
}

// GetExecution returns the execution with the ID, preferring the live
// store and falling back to persisted history.
func (s *WorkflowService) GetExecution(ctx context.Context, executionID string) (*workflow.Execution, error) {
	exec, err := s.executions.Get(ctx, executionID)
	if err == nil {
		return exec, nil
	}
	if !errors.Is(err, workflow.ErrExecutionNotFound) || s.history == nil {
		return nil, err
	}
	return s.history.GetExecution(ctx, executionID)
}

// ListExecutions returns executions newest first, merging the live
// store with persisted history. workflowID filters by workflow when
// non-empty; limit caps the result when positive.
func (s *WorkflowService) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*workflow.Execution, error) {
	live, err := s.executions.List(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(live))
	merged := make([]*workflow.Execution, 0, len(live))
	for _, e := range live {
		seen[e.ID] = true
		merged = append(merged, e)
	}
	if s.history != nil {
		stored, err := s.history.ListExecutions(ctx, workflowID, limit)
		if err != nil {
			return nil, err
		}
		for _, e := range stored {
			if !seen[e.ID] {
				merged = append(merged, e)
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].StartedAt.After(merged[j].StartedAt)
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// CancelExecution stops a running execution. The in-flight step attempt
// finishes; the execution then transitions to cancelled. Returns
// ErrExecutionFinished when the execution already reached a terminal
// status.
func (s *WorkflowService) CancelExecution(ctx context.Context, executionID string) error {
	exec, err := s.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Finished() {
		return workflow.ErrExecutionFinished
	}

	s.mu.Lock()
	cancel, ok := s.cancels[executionID]
	s.mu.Unlock()
	if !ok {
		// The run unwound between the lookup and now.
		return workflow.ErrExecutionFinished
	}

	cancel()
	s.logger.Info("workflow execution cancel requested", "execution", executionID)
	return nil
}

func (s *WorkflowService) trackCancel(executionID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancels[executionID] = cancel
	s.mu.Unlock()
}

func (s *WorkflowService) untrackCancel(executionID string) {
	s.mu.Lock()
	delete(s.cancels, executionID)
	s.mu.Unlock()
}

// newExecution creates a pending execution record for one run.
func newExecution(wf *workflow.Workflow) *workflow.Execution {
	return &workflow.Execution{
		ID:           uuid.NewString(),
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		Status:       workflow.StatusPending,
		StepResults:  make([]workflow.StepResult, 0, len(wf.Steps)),
		TotalSteps:   len(wf.Steps),
		StartedAt:    time.Now().UTC(),
	}
}

// execute walks the workflow's steps in array order, mutating exec as
// it goes, and leaves exec in a terminal state.
func (s *WorkflowService) execute(ctx context.Context, wf *workflow.Workflow, exec *workflow.Execution, input map[string]any) {
	if input == nil {
		input = map[string]any{}
	}

	ctx, span := otel.Tracer("toolchest/workflow").Start(ctx, "workflow.execute",
		trace.WithAttributes(
			attribute.String("workflow.id", wf.ID),
			attribute.String("workflow.name", wf.Name),
		))
	defer func() {
		span.SetAttributes(attribute.String("workflow.status", string(exec.Status)))
		if exec.Error != "" {
			span.SetStatus(codes.Error, exec.Error)
		}
		span.End()
	}()

	exec.Status = workflow.StatusRunning
	s.pushProgress(exec)
	s.emit(event.KindWorkflowStarted, exec.ID, wf.Name)
	s.logger.Info("workflow execution started",
		"workflow", wf.ID,
		"execution", exec.ID,
		"steps", len(wf.Steps))

	// Outputs of completed steps, keyed by step ID. Skipped and failed
	// steps never appear here, so later mappings that reference them
	// fail loudly instead of reading stale data.
	outputs := make(map[string]any, len(wf.Steps))

	for _, step := range wf.Steps {
		if ctx.Err() != nil {
			s.markCancelled(exec)
			break
		}

		exec.CurrentStep = step.ID
		s.pushProgress(exec)

		result := s.runStep(ctx, exec, step, input, outputs)
		exec.StepResults = append(exec.StepResults, result)
		exec.CurrentStep = ""

		switch result.Status {
		case workflow.StepCompleted:
			outputs[step.ID] = result.Output
			exec.CompletedSteps++
		case workflow.StepSkipped:
			// Neither progress nor failure.
		default:
			if ctx.Err() != nil {
				s.markCancelled(exec)
			} else {
				exec.Status = workflow.StatusFailed
				exec.Error = fmt.Sprintf("step %q failed: %s", step.ID, result.Error)
			}
		}
		if exec.Finished() {
			break
		}
		s.pushProgress(exec)
	}

	if !exec.Finished() {
		exec.Status = workflow.StatusCompleted
		exec.Success = true
	}
	s.finishRun(wf, exec)
}

func (s *WorkflowService) markCancelled(exec *workflow.Execution) {
	exec.Status = workflow.StatusCancelled
	exec.Error = "execution cancelled"
}

// runStep gates, resolves, and executes one step, returning its result.
// Condition evaluation errors skip the step; input resolution errors
// fail it without retries; execution failures retry with backoff.
func (s *WorkflowService) runStep(ctx context.Context, exec *workflow.Execution, step workflow.Step, input map[string]any, outputs map[string]any) workflow.StepResult {
	result := workflow.StepResult{
		StepID:    step.ID,
		ToolName:  step.ToolName,
		Status:    workflow.StepRunning,
		StartedAt: time.Now().UTC(),
	}

	if step.Condition != nil {
		selected, err := s.evaluateCondition(ctx, step.Condition, input, outputs)
		if err != nil {
			// A condition that cannot be evaluated skips its step; it
			// never takes the workflow down.
			s.emit(event.KindConditionError, exec.ID, fmt.Sprintf("step %s: %v", step.ID, err))
			s.logger.Warn("condition evaluation failed, skipping step",
				"execution", exec.ID,
				"step", step.ID,
				"error", err)
			return s.finishStep(result, workflow.StepSkipped, nil, fmt.Sprintf("condition error: %v", err), 0)
		}
		if !selected {
			return s.finishStep(result, workflow.StepSkipped, nil, "condition not met", 0)
		}
	}

	stepInput, edges, err := resolveStepInput(step, outputs)
	if err != nil {
		// Resolution failures are definition-level: retrying cannot
		// make a missing step output appear.
		return s.finishStep(result, workflow.StepFailed, nil, err.Error(), 0)
	}
	exec.DataFlow = append(exec.DataFlow, edges...)

	maxAttempts := s.maxAttempts
	if step.Retry != nil && step.Retry.MaxRetries > 0 {
		maxAttempts = step.Retry.MaxRetries
	}

	var (
		attempts int
		last     *tool.ExecutionResult
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if s.metrics != nil {
				s.metrics.StepRetries.Inc()
			}
			if !s.sleepBackoff(ctx, attempt-1) {
				break
			}
		}
		attempts++
		last = s.executor.ExecuteTool(ctx, step.ToolName, stepInput)
		if last.Success || ctx.Err() != nil {
			break
		}
		s.logger.Warn("step attempt failed",
			"execution", exec.ID,
			"step", step.ID,
			"tool", step.ToolName,
			"attempt", attempts,
			"error", last.Error)
	}

	if last != nil && last.Success {
		return s.finishStep(result, workflow.StepCompleted, last.Result, "", attempts)
	}
	errMsg := "execution cancelled"
	if last != nil && last.Error != "" {
		errMsg = last.Error
	}
	return s.finishStep(result, workflow.StepFailed, nil, errMsg, attempts)
}

// finishStep stamps the terminal fields onto a step result.
func (s *WorkflowService) finishStep(result workflow.StepResult, status workflow.StepStatus, output any, errMsg string, attempts int) workflow.StepResult {
	result.Status = status
	result.Output = output
	result.Error = errMsg
	result.Attempts = attempts
	result.FinishedAt = time.Now().UTC()
	elapsed := result.FinishedAt.Sub(result.StartedAt)
	result.Duration = elapsed.Milliseconds()
	if s.metrics != nil && status != workflow.StepSkipped {
		s.metrics.StepDuration.WithLabelValues(result.ToolName).Observe(elapsed.Seconds())
	}
	return result
}

// evaluateCondition reports whether the step should run. An "if"
// condition selects its step when the expression is truthy; a "switch"
// condition selects it when the value's canonical string equals one of
// the case values.
func (s *WorkflowService) evaluateCondition(ctx context.Context, cond *workflow.Condition, input, outputs map[string]any) (bool, error) {
	if s.conditions == nil {
		return false, errors.New("no condition evaluator configured")
	}
	value, err := s.conditions.Evaluate(ctx, cond.Expression, input, outputs)
	if err != nil {
		return false, err
	}
	switch cond.Type {
	case workflow.ConditionIf:
		return truthy(value), nil
	case workflow.ConditionSwitch:
		got := canonicalString(value)
		for _, c := range cond.Cases {
			if got == c.Value {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown condition type %q", cond.Type)
	}
}

// finishRun stamps the terminal execution, publishes the last progress
// snapshot, persists it to history, and updates the workflow's usage
// metadata. Writes run on a detached context: a cancelled run must
// still leave a queryable record behind.
func (s *WorkflowService) finishRun(wf *workflow.Workflow, exec *workflow.Execution) {
	exec.CurrentStep = ""
	exec.FinishedAt = time.Now().UTC()
	exec.Duration = exec.FinishedAt.Sub(exec.StartedAt).Milliseconds()

	if s.metrics != nil {
		s.metrics.WorkflowExecutions.WithLabelValues(string(exec.Status)).Inc()
	}

	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	s.pushProgress(exec)
	if s.history != nil {
		if err := s.history.SaveExecution(ctx, exec.Clone()); err != nil {
			s.logger.Error("failed to persist execution history",
				"execution", exec.ID, "error", err)
		}
	}
	s.recordRun(ctx, wf.ID)

	switch exec.Status {
	case workflow.StatusCompleted:
		s.emit(event.KindWorkflowCompleted, exec.ID, fmt.Sprintf("%dms", exec.Duration))
		s.logger.Info("workflow execution completed",
			"workflow", wf.ID,
			"execution", exec.ID,
			"completed_steps", exec.CompletedSteps,
			"duration_ms", exec.Duration)
	case workflow.StatusCancelled:
		s.emit(event.KindWorkflowFailed, exec.ID, "cancelled")
		s.logger.Info("workflow execution cancelled",
			"workflow", wf.ID,
			"execution", exec.ID,
			"completed_steps", exec.CompletedSteps)
	default:
		s.emit(event.KindWorkflowFailed, exec.ID, exec.Error)
		s.logger.Warn("workflow execution failed",
			"workflow", wf.ID,
			"execution", exec.ID,
			"error", exec.Error,
			"duration_ms", exec.Duration)
	}
}

// recordRun folds one run into the workflow's usage metadata. The
// read-modify-write is serialized so concurrent runs of the same
// workflow cannot drop counts.
func (s *WorkflowService) recordRun(ctx context.Context, workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		// Deleted mid-run; nothing left to update.
		return
	}
	now := time.Now().UTC()
	stored.Metadata.LastRun = &now
	stored.Metadata.RunCount++
	stored.UpdatedAt = now
	if err := s.workflows.Update(ctx, stored); err != nil {
		s.logger.Error("failed to update workflow run metadata",
			"workflow", workflowID, "error", err)
	}
}

// pushProgress publishes a snapshot of the execution for pollers. The
// store clones on write, so the engine keeps mutating its own record.
func (s *WorkflowService) pushProgress(exec *workflow.Execution) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()
	if err := s.executions.Put(ctx, exec); err != nil {
		s.logger.Error("failed to publish execution progress",
			"execution", exec.ID, "error", err)
	}
}

// backoffDelay returns the capped exponential delay before retry n
// (zero-based): base, 2*base, 4*base, ...
func (s *WorkflowService) backoffDelay(retry int) time.Duration {
	delay := s.retryBaseDelay << retry
	if delay <= 0 || delay > s.retryMaxDelay {
		delay = s.retryMaxDelay
	}
	return delay
}

// sleepBackoff waits out the backoff delay, returning false when the
// context is cancelled first.
func (s *WorkflowService) sleepBackoff(ctx context.Context, retry int) bool {
	timer := time.NewTimer(s.backoffDelay(retry))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// resolveStepInput assembles a step's effective input: deep-copied
// static values first, mapped values layered on top. Each resolved
// mapping yields one data-flow edge. A mapping whose source step has
// not completed, or whose path does not resolve, is a hard failure.
func resolveStepInput(step workflow.Step, outputs map[string]any) (map[string]any, []workflow.DataFlowEdge, error) {
	resolved := make(map[string]any, len(step.Input.Static)+len(step.Input.Mappings))
	for k, v := range step.Input.Static {
		resolved[k] = copyValue(v)
	}
	if len(step.Input.Mappings) == 0 {
		return resolved, nil, nil
	}

	keys := make([]string, 0, len(step.Input.Mappings))
	for k := range step.Input.Mappings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	edges := make([]workflow.DataFlowEdge, 0, len(keys))
	for _, key := range keys {
		m := step.Input.Mappings[key]
		src, ok := outputs[m.StepID]
		if !ok {
			return nil, nil, fmt.Errorf("input %q maps from step %q which has not completed", key, m.StepID)
		}
		value, err := workflow.ResolvePath(src, m.OutputPath)
		if err != nil {
			return nil, nil, fmt.Errorf("input %q: %v", key, err)
		}
		resolved[key] = copyValue(value)
		edges = append(edges, workflow.DataFlowEdge{
			FromStep: m.StepID,
			ToStep:   step.ID,
			InputKey: key,
		})
	}
	return resolved, edges, nil
}

// copyValue deep-copies a JSON-shaped value so step inputs never alias
// the workflow definition or another step's output.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	default:
		return v
	}
}

// truthy follows the loose truthiness conditions rely on: nil, false,
// zero numbers, and empty strings, bytes, and collections are false;
// everything else is true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []byte:
		return len(t) > 0
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// canonicalString renders a condition value the way switch cases are
// written: booleans as true/false, integral floats without a fraction.
func canonicalString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// emit records an activity event when a recorder is wired.
func (s *WorkflowService) emit(kind, subject, detail string) {
	if s.recorder == nil {
		return
	}
	if len(detail) > 512 {
		detail = detail[:512]
	}
	s.recorder.Emit(kind, subject, detail)
}
