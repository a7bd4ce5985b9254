package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/toolchest-labs/toolchest/internal/domain/event"
	"github.com/toolchest-labs/toolchest/internal/domain/tool"
	"github.com/toolchest-labs/toolchest/internal/domain/workflow"
)

// memWorkflowStore implements workflow.Store in memory.
type memWorkflowStore struct {
	mu    sync.Mutex
	items map[string]*workflow.Workflow
}

func newMemWorkflowStore() *memWorkflowStore {
	return &memWorkflowStore{items: make(map[string]*workflow.Workflow)}
}

func (m *memWorkflowStore) Create(_ context.Context, w *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[w.ID]; ok {
		return workflow.ErrWorkflowExists
	}
	m.items[w.ID] = w.Clone()
	return nil
}

func (m *memWorkflowStore) Get(_ context.Context, id string) (*workflow.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.items[id]
	if !ok {
		return nil, workflow.ErrWorkflowNotFound
	}
	return w.Clone(), nil
}

func (m *memWorkflowStore) Update(_ context.Context, w *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[w.ID]; !ok {
		return workflow.ErrWorkflowNotFound
	}
	m.items[w.ID] = w.Clone()
	return nil
}

func (m *memWorkflowStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return workflow.ErrWorkflowNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memWorkflowStore) List(_ context.Context) ([]*workflow.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*workflow.Workflow, 0, len(m.items))
	for _, w := range m.items {
		out = append(out, w.Clone())
	}
	return out, nil
}

// memExecStore implements workflow.ExecutionStore in memory.
type memExecStore struct {
	mu    sync.Mutex
	items map[string]*workflow.Execution
}

func newMemExecStore() *memExecStore {
	return &memExecStore{items: make(map[string]*workflow.Execution)}
}

func (m *memExecStore) Put(_ context.Context, e *workflow.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[e.ID] = e.Clone()
	return nil
}

func (m *memExecStore) Get(_ context.Context, id string) (*workflow.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok {
		return nil, workflow.ErrExecutionNotFound
	}
	return e.Clone(), nil
}

func (m *memExecStore) List(_ context.Context, workflowID string) ([]*workflow.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*workflow.Execution, 0, len(m.items))
	for _, e := range m.items {
		if workflowID != "" && e.WorkflowID != workflowID {
			continue
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

func (m *memExecStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return workflow.ErrExecutionNotFound
	}
	delete(m.items, id)
	return nil
}

// memHistoryStore implements workflow.HistoryStore in memory.
type memHistoryStore struct {
	mu    sync.Mutex
	items map[string]*workflow.Execution
}

func newMemHistoryStore() *memHistoryStore {
	return &memHistoryStore{items: make(map[string]*workflow.Execution)}
}

func (m *memHistoryStore) SaveExecution(_ context.Context, e *workflow.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[e.ID] = e.Clone()
	return nil
}

func (m *memHistoryStore) GetExecution(_ context.Context, id string) (*workflow.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok {
		return nil, workflow.ErrExecutionNotFound
	}
	return e.Clone(), nil
}

func (m *memHistoryStore) ListExecutions(_ context.Context, workflowID string, limit int) ([]*workflow.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*workflow.Execution, 0, len(m.items))
	for _, e := range m.items {
		if workflowID != "" && e.WorkflowID != workflowID {
			continue
		}
		out = append(out, e.Clone())
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// scriptedExecutor serves each tool a queue of canned results, repeating
// the last entry once the queue drains. When block is set, calls wait
// until it closes or the context ends.
type scriptedExecutor struct {
	mu      sync.Mutex
	results map[string][]*tool.ExecutionResult
	inputs  []map[string]any
	block   chan struct{}
}

func (f *scriptedExecutor) ExecuteTool(ctx context.Context, name string, input map[string]any) *tool.ExecutionResult {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	var res *tool.ExecutionResult
	if queue := f.results[name]; len(queue) > 0 {
		res = queue[0]
		if len(queue) > 1 {
			f.results[name] = queue[1:]
		}
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return &tool.ExecutionResult{Error: "execution cancelled", ToolName: name}
		}
	}
	if res == nil {
		return &tool.ExecutionResult{Success: true, Result: map[string]any{"ok": true}, ToolName: name}
	}
	out := *res
	return &out
}

func (f *scriptedExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

// tableConditions evaluates expressions from fixed tables.
type tableConditions struct {
	checkErr error
	values   map[string]any
	errs     map[string]error
}

func (f *tableConditions) Check(string) error { return f.checkErr }

func (f *tableConditions) Evaluate(_ context.Context, expr string, _, _ map[string]any) (any, error) {
	if err, ok := f.errs[expr]; ok {
		return nil, err
	}
	if v, ok := f.values[expr]; ok {
		return v, nil
	}
	return true, nil
}

// fastRetry keeps test backoffs in the microsecond range.
func fastRetry(maxAttempts int) WorkflowOption {
	return WithRetryConfig(maxAttempts, time.Millisecond, 4*time.Millisecond)
}

func pipelineWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		Name: "fetch and summarize",
		Steps: []workflow.Step{
			{
				ID:       "fetch",
				ToolName: "fetch_page",
				Input: workflow.StepInput{
					Static: map[string]any{"url": "https://example.com"},
				},
			},
			{
				ID:       "summarize",
				ToolName: "summarize_text",
				Input: workflow.StepInput{
					Mappings: map[string]workflow.Mapping{
						"text": {StepID: "fetch", OutputPath: "content"},
					},
				},
			},
		},
	}
}

func TestWorkflowService_SaveWorkflow(t *testing.T) {
	store := newMemWorkflowStore()
	svc := NewWorkflowService(store, newMemExecStore(), nil, &scriptedExecutor{}, &tableConditions{}, nil, discardLogger())

	saved, err := svc.SaveWorkflow(context.Background(), pipelineWorkflow())
	if err != nil {
		t.Fatalf("SaveWorkflow() error = %v", err)
	}
	if saved.ID == "" {
		t.Error("SaveWorkflow() did not assign an ID")
	}
	if saved.CreatedAt.IsZero() || saved.UpdatedAt.IsZero() {
		t.Error("SaveWorkflow() did not stamp timestamps")
	}

	stored, err := store.Get(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("stored workflow missing: %v", err)
	}
	if stored.Name != "fetch and summarize" || len(stored.Steps) != 2 {
		t.Errorf("stored workflow = %q with %d steps, want original definition", stored.Name, len(stored.Steps))
	}

	if _, err := svc.SaveWorkflow(context.Background(), saved); !errors.Is(err, workflow.ErrWorkflowExists) {
		t.Errorf("duplicate SaveWorkflow() error = %v, want ErrWorkflowExists", err)
	}
}

func TestWorkflowService_SaveWorkflow_Invalid(t *testing.T) {
	svc := NewWorkflowService(newMemWorkflowStore(), newMemExecStore(), nil, &scriptedExecutor{}, &tableConditions{}, nil, discardLogger())

	if _, err := svc.SaveWorkflow(context.Background(), &workflow.Workflow{Name: "empty"}); !errors.Is(err, workflow.ErrInvalidWorkflow) {
		t.Errorf("SaveWorkflow(no steps) error = %v, want ErrInvalidWorkflow", err)
	}
	if _, err := svc.SaveWorkflow(context.Background(), nil); !errors.Is(err, workflow.ErrInvalidWorkflow) {
		t.Errorf("SaveWorkflow(nil) error = %v, want ErrInvalidWorkflow", err)
	}
}

func TestWorkflowService_SaveWorkflow_BadCondition(t *testing.T) {
	conds := &tableConditions{checkErr: errors.New("undeclared reference")}
	svc := NewWorkflowService(newMemWorkflowStore(), newMemExecStore(), nil, &scriptedExecutor{}, conds, nil, discardLogger())

	wf := pipelineWorkflow()
	wf.Steps[1].Condition = &workflow.Condition{Type: workflow.ConditionIf, Expression: "bogus("}

	_, err := svc.SaveWorkflow(context.Background(), wf)
	if !errors.Is(err, workflow.ErrInvalidWorkflow) {
		t.Fatalf("SaveWorkflow(bad condition) error = %v, want ErrInvalidWorkflow", err)
	}
	if !strings.Contains(err.Error(), "summarize") {
		t.Errorf("error %q does not name the offending step", err)
	}
}

func TestWorkflowService_UpdateWorkflow(t *testing.T) {
	store := newMemWorkflowStore()
	svc := NewWorkflowService(store, newMemExecStore(), nil, &scriptedExecutor{}, &tableConditions{}, nil, discardLogger())

	saved, err := svc.SaveWorkflow(context.Background(), pipelineWorkflow())
	if err != nil {
		t.Fatalf("SaveWorkflow() error = %v", err)
	}

	updated, err := svc.UpdateWorkflow(context.Background(), saved.ID, &workflow.Workflow{
		Description: "pull a page and compress it",
		Metadata:    workflow.Metadata{RunCount: 99},
	})
	if err != nil {
		t.Fatalf("UpdateWorkflow() error = %v", err)
	}
	if updated.Description != "pull a page and compress it" {
		t.Errorf("Description = %q, want updated value", updated.Description)
	}
	if updated.Name != saved.Name || len(updated.Steps) != 2 {
		t.Error("UpdateWorkflow() dropped fields that were not updated")
	}
	if updated.ID != saved.ID {
		t.Errorf("ID changed to %q, want immutable %q", updated.ID, saved.ID)
	}
	if updated.Metadata.RunCount != 0 {
		t.Errorf("RunCount = %d, want engine-owned 0", updated.Metadata.RunCount)
	}

	if _, err := svc.UpdateWorkflow(context.Background(), "missing", &workflow.Workflow{Name: "x"}); !errors.Is(err, workflow.ErrWorkflowNotFound) {
		t.Errorf("UpdateWorkflow(missing) error = %v, want ErrWorkflowNotFound", err)
	}
}

func TestWorkflowService_DeleteWorkflow(t *testing.T) {
	store := newMemWorkflowStore()
	svc := NewWorkflowService(store, newMemExecStore(), nil, &scriptedExecutor{}, &tableConditions{}, nil, discardLogger())

	saved, _ := svc.SaveWorkflow(context.Background(), pipelineWorkflow())
	if err := svc.DeleteWorkflow(context.Background(), saved.ID); err != nil {
		t.Fatalf("DeleteWorkflow() error = %v", err)
	}
	if err := svc.DeleteWorkflow(context.Background(), saved.ID); !errors.Is(err, workflow.ErrWorkflowNotFound) {
		t.Errorf("second DeleteWorkflow() error = %v, want ErrWorkflowNotFound", err)
	}
}

func TestWorkflowService_ExecuteWorkflow(t *testing.T) {
	store := newMemWorkflowStore()
	execs := newMemExecStore()
	hist := newMemHistoryStore()
	executor := &scriptedExecutor{results: map[string][]*tool.ExecutionResult{
		"fetch_page":     {{Success: true, Result: map[string]any{"content": "hello world"}}},
		"summarize_text": {{Success: true, Result: map[string]any{"summary": "hi"}}},
	}}
	svc := NewWorkflowService(store, execs, hist, executor, &tableConditions{}, nil, discardLogger(), fastRetry(3))

	saved, err := svc.SaveWorkflow(context.Background(), pipelineWorkflow())
	if err != nil {
		t.Fatalf("SaveWorkflow() error = %v", err)
	}

	exec, err := svc.ExecuteWorkflow(context.Background(), saved.ID, map[string]any{"mode": "full"})
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}

	if exec.Status != workflow.StatusCompleted || !exec.Success {
		t.Fatalf("execution = %s success=%v, want completed", exec.Status, exec.Success)
	}
	if exec.CompletedSteps != 2 || exec.TotalSteps != 2 {
		t.Errorf("progress = %d/%d, want 2/2", exec.CompletedSteps, exec.TotalSteps)
	}
	if len(exec.StepResults) != 2 {
		t.Fatalf("StepResults = %d, want 2", len(exec.StepResults))
	}
	if exec.StepResults[0].Status != workflow.StepCompleted || exec.StepResults[1].Status != workflow.StepCompleted {
		t.Error("steps not all completed")
	}
	if exec.StepResults[0].Attempts != 1 {
		t.Errorf("first step attempts = %d, want 1", exec.StepResults[0].Attempts)
	}

	// The mapping fed the fetch output into the summarize input and
	// left a data-flow edge behind.
	if len(executor.inputs) != 2 {
		t.Fatalf("executor calls = %d, want 2", len(executor.inputs))
	}
	if got := executor.inputs[1]["text"]; got != "hello world" {
		t.Errorf(`summarize input "text" = %v, want mapped fetch content`, got)
	}
	if len(exec.DataFlow) != 1 {
		t.Fatalf("DataFlow edges = %d, want 1", len(exec.DataFlow))
	}
	edge := exec.DataFlow[0]
	if edge.FromStep != "fetch" || edge.ToStep != "summarize" || edge.InputKey != "text" {
		t.Errorf("edge = %+v, want fetch->summarize via text", edge)
	}

	// Terminal snapshot is pollable and persisted to history.
	snap, err := execs.Get(context.Background(), exec.ID)
	if err != nil || snap.Status != workflow.StatusCompleted {
		t.Errorf("live snapshot = %v, %v; want terminal snapshot", snap, err)
	}
	if _, err := hist.GetExecution(context.Background(), exec.ID); err != nil {
		t.Errorf("history record missing: %v", err)
	}

	// Run metadata advanced.
	stored, _ := store.Get(context.Background(), saved.ID)
	if stored.Metadata.RunCount != 1 || stored.Metadata.LastRun == nil {
		t.Errorf("run metadata = count %d lastRun %v, want 1 and set", stored.Metadata.RunCount, stored.Metadata.LastRun)
	}
}

func TestWorkflowService_ExecuteWorkflow_UnknownWorkflow(t *testing.T) {
	svc := NewWorkflowService(newMemWorkflowStore(), newMemExecStore(), nil, &scriptedExecutor{}, &tableConditions{}, nil, discardLogger())

	if _, err := svc.ExecuteWorkflow(context.Background(), "missing", nil); !errors.Is(err, workflow.ErrWorkflowNotFound) {
		t.Errorf("ExecuteWorkflow(missing) error = %v, want ErrWorkflowNotFound", err)
	}
}

func TestWorkflowService_ConditionSkip(t *testing.T) {
	conds := &tableConditions{values: map[string]any{`input.mode == "full"`: false}}
	executor := &scriptedExecutor{}
	svc := NewWorkflowService(newMemWorkflowStore(), newMemExecStore(), nil, executor, conds, nil, discardLogger(), fastRetry(3))

	wf := pipelineWorkflow()
	wf.Steps[0].Condition = &workflow.Condition{Type: workflow.ConditionIf, Expression: `input.mode == "full"`}
	// The second step no longer maps from the first, which will be skipped.
	wf.Steps[1].Input = workflow.StepInput{Static: map[string]any{"text": "inline"}}
	saved, _ := svc.SaveWorkflow(context.Background(), wf)

	exec, err := svc.ExecuteWorkflow(context.Background(), saved.ID, nil)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}
	if exec.Status != workflow.StatusCompleted {
		t.Fatalf("status = %s, want completed despite skip", exec.Status)
	}
	if exec.StepResults[0].Status != workflow.StepSkipped {
		t.Errorf("gated step = %s, want skipped", exec.StepResults[0].Status)
	}
	if exec.CompletedSteps != 1 {
		t.Errorf("CompletedSteps = %d, want 1 (skips do not count)", exec.CompletedSteps)
	}
	if executor.callCount() != 1 {
		t.Errorf("executor calls = %d, want only the unconditioned step", executor.callCount())
	}
}

func TestWorkflowService_ConditionSwitch(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  workflow.StepStatus
	}{
		{"matching string", "spam", workflow.StepCompleted},
		{"non-matching string", "ham", workflow.StepSkipped},
		{"integral float matches case", float64(2), workflow.StepCompleted},
		{"bool renders canonically", true, workflow.StepSkipped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conds := &tableConditions{values: map[string]any{"steps.classify.label": tt.value}}
			svc := NewWorkflowService(newMemWorkflowStore(), newMemExecStore(), nil, &scriptedExecutor{}, conds, nil, discardLogger(), fastRetry(3))

			wf := pipelineWorkflow()
			wf.Steps[1].Input = workflow.StepInput{Static: map[string]any{"text": "x"}}
			wf.Steps[1].Condition = &workflow.Condition{
				Type:       workflow.ConditionSwitch,
				Expression: "steps.classify.label",
				Cases:      []workflow.Case{{Value: "spam"}, {Value: "2"}},
			}
			saved, _ := svc.SaveWorkflow(context.Background(), wf)

			exec, err := svc.ExecuteWorkflow(context.Background(), saved.ID, nil)
			if err != nil {
				t.Fatalf("ExecuteWorkflow() error = %v", err)
			}
			if got := exec.StepResults[1].Status; got != tt.want {
				t.Errorf("switch step status = %s, want %s", got, tt.want)
			}
			if exec.Status != workflow.StatusCompleted {
				t.Errorf("execution = %s, want completed", exec.Status)
			}
		})
	}
}

func TestWorkflowService_ConditionErrorSkipsStep(t *testing.T) {
	conds := &tableConditions{errs: map[string]error{"steps.gone.value": errors.New("no such key")}}
	rec := NewExecutionRecorder(&memEventStore{}, discardLogger())
	svc := NewWorkflowService(newMemWorkflowStore(), newMemExecStore(), nil, &scriptedExecutor{}, conds, rec, discardLogger(), fastRetry(3))

	wf := pipelineWorkflow()
	wf.Steps[1].Input = workflow.StepInput{Static: map[string]any{"text": "x"}}
	wf.Steps[1].Condition = &workflow.Condition{Type: workflow.ConditionIf, Expression: "steps.gone.value"}
	saved, _ := svc.SaveWorkflow(context.Background(), wf)

	exec, err := svc.ExecuteWorkflow(context.Background(), saved.ID, nil)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}

	// An unevaluable condition skips its step; it never fails the run.
	if exec.Status != workflow.StatusCompleted {
		t.Fatalf("status = %s, want completed", exec.Status)
	}
	result := exec.StepResults[1]
	if result.Status != workflow.StepSkipped || !strings.Contains(result.Error, "condition error") {
		t.Errorf("step = %s %q, want skipped with condition error", result.Status, result.Error)
	}

	var sawConditionError bool
	for _, r := range rec.Recent(0) {
		if r.Kind == event.KindConditionError {
			sawConditionError = true
		}
	}
	if !sawConditionError {
		t.Error("no workflow.condition_error record emitted")
	}
}

func TestWorkflowService_MappingFailureFailsFast(t *testing.T) {
	// First step is skipped, so the second step's mapping has no source
	// output and must fail without retries.
	conds := &tableConditions{values: map[string]any{"input.fetch": false}}
	executor := &scriptedExecutor{}
	svc := NewWorkflowService(newMemWorkflowStore(), newMemExecStore(), nil, executor, conds, nil, discardLogger(), fastRetry(3))

	wf := pipelineWorkflow()
	wf.Steps[0].Condition = &workflow.Condition{Type: workflow.ConditionIf, Expression: "input.fetch"}
	wf.Steps = append(wf.Steps, workflow.Step{
		ID:       "store",
		ToolName: "store_result",
		Input:    workflow.StepInput{Static: map[string]any{"key": "page"}},
	})
	saved, _ := svc.SaveWorkflow(context.Background(), wf)

	exec, err := svc.ExecuteWorkflow(context.Background(), saved.ID, nil)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}

	if exec.Status != workflow.StatusFailed || exec.Success {
		t.Fatalf("execution = %s, want failed", exec.Status)
	}
	if len(exec.StepResults) != 2 {
		t.Fatalf("StepResults = %d, want 2 (fail-fast stops the third step)", len(exec.StepResults))
	}
	failed := exec.StepResults[1]
	if failed.Status != workflow.StepFailed {
		t.Errorf("mapping step = %s, want failed", failed.Status)
	}
	if failed.Attempts != 0 {
		t.Errorf("mapping failure attempts = %d, want 0 (no retries)", failed.Attempts)
	}
	if !strings.Contains(failed.Error, "has not completed") {
		t.Errorf("error = %q, want unresolved mapping error", failed.Error)
	}
	if !strings.Contains(exec.Error, "summarize") {
		t.Errorf("execution error = %q, want failing step named", exec.Error)
	}
	if executor.callCount() != 0 {
		t.Errorf("executor calls = %d, want 0", executor.callCount())
	}
}

func TestWorkflowService_RetryThenSuccess(t *testing.T) {
	executor := &scriptedExecutor{results: map[string][]*tool.ExecutionResult{
		"fetch_page": {
			{Error: "connection refused"},
			{Error: "connection refused"},
			{Success: true, Result: map[string]any{"content": "finally"}},
		},
	}}
	svc := NewWorkflowService(newMemWorkflowStore(), newMemExecStore(), nil, executor, &tableConditions{}, nil, discardLogger(), fastRetry(3))

	wf := pipelineWorkflow()
	wf.Steps = wf.Steps[:1]
	saved, _ := svc.SaveWorkflow(context.Background(), wf)

	exec, err := svc.ExecuteWorkflow(context.Background(), saved.ID, nil)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}
	if exec.Status != workflow.StatusCompleted {
		t.Fatalf("status = %s, want completed after retries", exec.Status)
	}
	if got := exec.StepResults[0].Attempts; got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestWorkflowService_FailFastStopsPipeline(t *testing.T) {
	executor := &scriptedExecutor{results: map[string][]*tool.ExecutionResult{
		"fetch_page":     {{Success: true, Result: map[string]any{"content": "page"}}},
		"summarize_text": {{Error: "boom"}},
	}}
	svc := NewWorkflowService(newMemWorkflowStore(), newMemExecStore(), nil, executor, &tableConditions{}, nil, discardLogger(), fastRetry(2))

	wf := pipelineWorkflow()
	wf.Steps = append(wf.Steps, workflow.Step{
		ID:       "store",
		ToolName: "store_result",
		Input:    workflow.StepInput{Static: map[string]any{"key": "page"}},
	})
	saved, _ := svc.SaveWorkflow(context.Background(), wf)

	exec, err := svc.ExecuteWorkflow(context.Background(), saved.ID, nil)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}
	if exec.Status != workflow.StatusFailed || exec.Success {
		t.Fatalf("status = %s, want failed", exec.Status)
	}

	// The third step never runs: its result is absent, not failed.
	if len(exec.StepResults) != 2 {
		t.Fatalf("StepResults = %d, want 2", len(exec.StepResults))
	}
	if exec.StepResults[0].Status != workflow.StepCompleted {
		t.Errorf("step 1 = %s, want completed", exec.StepResults[0].Status)
	}
	failed := exec.StepResults[1]
	if failed.Status != workflow.StepFailed || failed.Attempts != 2 || failed.Error != "boom" {
		t.Errorf("step 2 = %s attempts=%d error=%q, want failed after 2 attempts", failed.Status, failed.Attempts, failed.Error)
	}
	if executor.callCount() != 3 {
		t.Errorf("executor calls = %d, want 3 (never the third step)", executor.callCount())
	}
}

func TestWorkflowService_MappingResolvesNestedPath(t *testing.T) {
	executor := &scriptedExecutor{results: map[string][]*tool.ExecutionResult{
		"fetch_page": {{Success: true, Result: map[string]any{"data": map[string]any{"value": 42}}}},
	}}
	svc := NewWorkflowService(newMemWorkflowStore(), newMemExecStore(), nil, executor, &tableConditions{}, nil, discardLogger(), fastRetry(1))

	wf := pipelineWorkflow()
	wf.Steps[1].Input = workflow.StepInput{
		Mappings: map[string]workflow.Mapping{
			"x": {StepID: "fetch", OutputPath: "data.value"},
		},
	}
	saved, _ := svc.SaveWorkflow(context.Background(), wf)

	exec, err := svc.ExecuteWorkflow(context.Background(), saved.ID, nil)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}
	if exec.Status != workflow.StatusCompleted {
		t.Fatalf("status = %s, want completed", exec.Status)
	}
	if got := executor.inputs[1]["x"]; got != 42 {
		t.Errorf(`mapped input "x" = %v, want 42`, got)
	}
}

func TestWorkflowService_MappingBadPathFailsStep(t *testing.T) {
	executor := &scriptedExecutor{results: map[string][]*tool.ExecutionResult{
		"fetch_page": {{Success: true, Result: map[string]any{"data": map[string]any{"value": 42}}}},
	}}
	svc := NewWorkflowService(newMemWorkflowStore(), newMemExecStore(), nil, executor, &tableConditions{}, nil, discardLogger(), fastRetry(3))

	wf := pipelineWorkflow()
	wf.Steps[1].Input = workflow.StepInput{
		Mappings: map[string]workflow.Mapping{
			"x": {StepID: "fetch", OutputPath: "data.missing"},
		},
	}
	saved, _ := svc.SaveWorkflow(context.Background(), wf)

	exec, err := svc.ExecuteWorkflow(context.Background(), saved.ID, nil)
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}
	if exec.Status != workflow.StatusFailed {
		t.Fatalf("status = %s, want failed (paths never default silently)", exec.Status)
	}
	failed := exec.StepResults[1]
	if failed.Status != workflow.StepFailed || failed.Attempts != 0 {
		t.Errorf("step = %s attempts=%d, want failed with no retries", failed.Status, failed.Attempts)
	}
	if !strings.Contains(failed.Error, "not found") {
		t.Errorf("error = %q, want path resolution error", failed.Error)
	}
	if executor.callCount() != 1 {
		t.Errorf("executor calls = %d, want 1 (mapping failed before execution)", executor.callCount())
	}
}

func TestWorkflowService_PerStepRetryOverride(t *testing.T) {
	executor := &scriptedExecutor{results: map[string][]*tool.ExecutionResult{
		"fetch_page": {{Error: "boom"}},
	}}
	svc := NewWorkflowService(newMemWorkflowStore(), newMemExecStore(), nil, executor, &tableConditions{}, nil, discardLogger(), fastRetry(5))

	wf := pipelineWorkflow()
	wf.Steps = wf.Steps[:1]
	wf.Steps[0].Retry = &workflow.RetryPolicy{MaxRetries: 1}
	saved, _ := svc.SaveWorkflow(context.Background(), wf)

	exec, _ := svc.ExecuteWorkflow(context.Background(), saved.ID, nil)
	if got := exec.StepResults[0].Attempts; got != 1 {
		t.Errorf("attempts = %d, want per-step override of 1", got)
	}
}

func TestWorkflowService_StartAndCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	block := make(chan struct{})
	defer close(block)
	executor := &scriptedExecutor{block: block}
	execs := newMemExecStore()
	hist := newMemHistoryStore()
	svc := NewWorkflowService(newMemWorkflowStore(), execs, hist, executor, &tableConditions{}, nil, discardLogger(), fastRetry(1))

	saved, err := svc.SaveWorkflow(context.Background(), pipelineWorkflow())
	if err != nil {
		t.Fatalf("SaveWorkflow() error = %v", err)
	}

	id, err := svc.StartWorkflow(context.Background(), saved.ID, nil)
	if err != nil {
		t.Fatalf("StartWorkflow() error = %v", err)
	}
	if id == "" {
		t.Fatal("StartWorkflow() returned empty execution id")
	}

	waitFor(t, 2*time.Second, func() bool {
		e, err := svc.GetExecution(context.Background(), id)
		return err == nil && e.Status == workflow.StatusRunning
	})

	if err := svc.CancelExecution(context.Background(), id); err != nil {
		t.Fatalf("CancelExecution() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		e, err := svc.GetExecution(context.Background(), id)
		return err == nil && e.Status == workflow.StatusCancelled
	})

	exec, _ := svc.GetExecution(context.Background(), id)
	if exec.Success {
		t.Error("cancelled execution reports success")
	}
	if _, err := hist.GetExecution(context.Background(), id); err != nil {
		t.Errorf("cancelled execution not in history: %v", err)
	}

	if err := svc.CancelExecution(context.Background(), id); !errors.Is(err, workflow.ErrExecutionFinished) {
		t.Errorf("second cancel error = %v, want ErrExecutionFinished", err)
	}

	svc.Stop()
}

func TestWorkflowService_StopCancelsBackgroundRuns(t *testing.T) {
	defer goleak.VerifyNone(t)

	block := make(chan struct{})
	defer close(block)
	executor := &scriptedExecutor{block: block}
	svc := NewWorkflowService(newMemWorkflowStore(), newMemExecStore(), nil, executor, &tableConditions{}, nil, discardLogger(), fastRetry(1))

	saved, _ := svc.SaveWorkflow(context.Background(), pipelineWorkflow())
	id, err := svc.StartWorkflow(context.Background(), saved.ID, nil)
	if err != nil {
		t.Fatalf("StartWorkflow() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		e, err := svc.GetExecution(context.Background(), id)
		return err == nil && e.Status == workflow.StatusRunning
	})

	svc.Stop()

	e, err := svc.GetExecution(context.Background(), id)
	if err != nil {
		t.Fatalf("GetExecution() after Stop error = %v", err)
	}
	if e.Status != workflow.StatusCancelled {
		t.Errorf("status after Stop = %s, want cancelled", e.Status)
	}
}

func TestWorkflowService_CancelUnknownExecution(t *testing.T) {
	svc := NewWorkflowService(newMemWorkflowStore(), newMemExecStore(), newMemHistoryStore(), &scriptedExecutor{}, &tableConditions{}, nil, discardLogger())

	if err := svc.CancelExecution(context.Background(), "missing"); !errors.Is(err, workflow.ErrExecutionNotFound) {
		t.Errorf("CancelExecution(missing) error = %v, want ErrExecutionNotFound", err)
	}
}

func TestWorkflowService_GetExecution_HistoryFallback(t *testing.T) {
	hist := newMemHistoryStore()
	svc := NewWorkflowService(newMemWorkflowStore(), newMemExecStore(), hist, &scriptedExecutor{}, &tableConditions{}, nil, discardLogger())

	archived := &workflow.Execution{
		ID:         "exec-old",
		WorkflowID: "wf-1",
		Status:     workflow.StatusCompleted,
		Success:    true,
	}
	if err := hist.SaveExecution(context.Background(), archived); err != nil {
		t.Fatal(err)
	}

	got, err := svc.GetExecution(context.Background(), "exec-old")
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if got.ID != "exec-old" || got.Status != workflow.StatusCompleted {
		t.Errorf("got %+v, want archived execution", got)
	}

	if _, err := svc.GetExecution(context.Background(), "missing"); !errors.Is(err, workflow.ErrExecutionNotFound) {
		t.Errorf("GetExecution(missing) error = %v, want ErrExecutionNotFound", err)
	}
}

func TestWorkflowService_ListExecutions_MergesHistory(t *testing.T) {
	execs := newMemExecStore()
	hist := newMemHistoryStore()
	svc := NewWorkflowService(newMemWorkflowStore(), execs, hist, &scriptedExecutor{}, &tableConditions{}, nil, discardLogger())

	now := time.Now().UTC()
	live := &workflow.Execution{ID: "exec-live", WorkflowID: "wf-1", Status: workflow.StatusRunning, StartedAt: now}
	execs.Put(context.Background(), live)

	// The live execution also has a stale terminal copy in history; the
	// live record must win the merge.
	histCopy := live.Clone()
	histCopy.Status = workflow.StatusCompleted
	hist.SaveExecution(context.Background(), histCopy)
	hist.SaveExecution(context.Background(), &workflow.Execution{
		ID: "exec-old", WorkflowID: "wf-1", Status: workflow.StatusCompleted, StartedAt: now.Add(-time.Hour),
	})
	hist.SaveExecution(context.Background(), &workflow.Execution{
		ID: "exec-other", WorkflowID: "wf-2", Status: workflow.StatusCompleted, StartedAt: now.Add(-time.Minute),
	})

	got, err := svc.ListExecutions(context.Background(), "wf-1", 0)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListExecutions() = %d records, want 2", len(got))
	}
	if got[0].ID != "exec-live" || got[0].Status != workflow.StatusRunning {
		t.Errorf("first = %s/%s, want live exec-live first", got[0].ID, got[0].Status)
	}
	if got[1].ID != "exec-old" {
		t.Errorf("second = %s, want exec-old", got[1].ID)
	}

	capped, err := svc.ListExecutions(context.Background(), "wf-1", 1)
	if err != nil {
		t.Fatalf("ListExecutions(limit) error = %v", err)
	}
	if len(capped) != 1 || capped[0].ID != "exec-live" {
		t.Errorf("capped = %v, want newest only", capped)
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{nil, false},
		{true, true},
		{false, false},
		{"", false},
		{"yes", true},
		{int64(0), false},
		{int64(-1), true},
		{float64(0), false},
		{float64(0.5), true},
		{[]any{}, false},
		{[]any{1}, true},
		{map[string]any{}, false},
		{map[string]any{"a": 1}, true},
	}
	for _, tt := range tests {
		if got := truthy(tt.value); got != tt.want {
			t.Errorf("truthy(%#v) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestCanonicalString(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{"spam", "spam"},
		{true, "true"},
		{int64(7), "7"},
		{float64(2), "2"},
		{float64(2.5), "2.5"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := canonicalString(tt.value); got != tt.want {
			t.Errorf("canonicalString(%#v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestResolveStepInput_DeepCopies(t *testing.T) {
	static := map[string]any{"options": map[string]any{"depth": 1}}
	step := workflow.Step{ID: "s", ToolName: "t", Input: workflow.StepInput{Static: static}}

	resolved, _, err := resolveStepInput(step, nil)
	if err != nil {
		t.Fatalf("resolveStepInput() error = %v", err)
	}
	resolved["options"].(map[string]any)["depth"] = 99

	if static["options"].(map[string]any)["depth"] != 1 {
		t.Error("mutating resolved input leaked into the definition")
	}
}
