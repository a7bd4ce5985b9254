// Package workflow contains domain types for multi-step tool pipelines:
// ordered steps with data-flow mappings between them, optional branch
// conditions, and per-execution progress tracking.
package workflow

import (
	"fmt"
	"time"
)

// ConditionType identifies how a step condition is interpreted.
type ConditionType string

const (
	// ConditionIf runs the step only if the expression evaluates truthy.
	ConditionIf ConditionType = "if"
	// ConditionSwitch runs the step only if the expression's value equals
	// one of the case values.
	ConditionSwitch ConditionType = "switch"
)

// ExecutionStatus represents the overall state of one workflow run.
type ExecutionStatus string

const (
	// StatusPending indicates the execution has been created but not started.
	StatusPending ExecutionStatus = "pending"
	// StatusRunning indicates steps are being executed.
	StatusRunning ExecutionStatus = "running"
	// StatusCompleted indicates every non-skipped step succeeded.
	StatusCompleted ExecutionStatus = "completed"
	// StatusFailed indicates a step failed after exhausting its retries.
	StatusFailed ExecutionStatus = "failed"
	// StatusCancelled indicates the execution was stopped by request.
	StatusCancelled ExecutionStatus = "cancelled"
)

// StepStatus represents the state of one step within an execution.
type StepStatus string

const (
	// StepPending indicates the step has not been reached yet.
	StepPending StepStatus = "pending"
	// StepRunning indicates the step is executing.
	StepRunning StepStatus = "running"
	// StepCompleted indicates the step succeeded.
	StepCompleted StepStatus = "completed"
	// StepFailed indicates the step failed after retries.
	StepFailed StepStatus = "failed"
	// StepSkipped indicates the step's condition did not select it.
	StepSkipped StepStatus = "skipped"
)

// nameMaxLength is the maximum allowed length for a workflow name.
const nameMaxLength = 100

// maxRetriesCeiling bounds per-step retry configuration.
const maxRetriesCeiling = 10

// Mapping pulls one input key from a prior step's output.
type Mapping struct {
	// StepID names the source step. It must appear earlier in the
	// step array than the step that declares the mapping.
	StepID string `json:"stepId"`
	// OutputPath is a dot-path into the source step's output, e.g.
	// "result.items.0.name". Empty selects the whole output.
	OutputPath string `json:"outputPath,omitempty"`
}

// StepInput describes how a step's effective input is assembled:
// static values first, then mapped values layered on top.
type StepInput struct {
	// Static holds literal input values.
	Static map[string]any `json:"static,omitempty"`
	// Mappings pulls values from prior step outputs, keyed by the
	// input field they populate. Mapped values override static ones.
	Mappings map[string]Mapping `json:"mappings,omitempty"`
}

// Case is one branch of a switch condition. StepID is advisory
// authoring metadata naming the step the branch is intended for;
// execution order is always the step array order.
type Case struct {
	Value  string `json:"value"`
	StepID string `json:"stepId,omitempty"`
}

// Condition gates a step on an expression evaluated against the
// accumulated outputs of prior steps. Evaluation errors skip the step
// rather than failing the workflow.
type Condition struct {
	// Type is "if" or "switch".
	Type ConditionType `json:"type"`
	// Expression is a CEL expression over the variables "input"
	// (the workflow input) and "steps" (map of step ID to output).
	Expression string `json:"expression"`
	// Cases are the switch branches (switch only).
	Cases []Case `json:"cases,omitempty"`
}

// RetryPolicy overrides the engine's retry behavior for one step.
type RetryPolicy struct {
	// MaxRetries is the maximum number of execution attempts.
	MaxRetries int `json:"maxRetries"`
}

// Step is one tool invocation within a workflow.
type Step struct {
	// ID is unique within the workflow.
	ID string `json:"id"`
	// ToolName references a registered tool. The reference is resolved
	// at execution time, not checked at save time, so workflows can be
	// authored before every tool they use exists.
	ToolName string `json:"toolName"`
	// Input assembles the step's effective input.
	Input StepInput `json:"input"`
	// Condition optionally gates the step.
	Condition *Condition `json:"condition,omitempty"`
	// Retry optionally overrides the engine retry policy.
	Retry *RetryPolicy `json:"retry,omitempty"`
}

// Metadata carries optional authoring and usage information.
type Metadata struct {
	Author string   `json:"author,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	// LastRun is when the workflow last executed.
	LastRun *time.Time `json:"lastRun,omitempty"`
	// RunCount is the total number of executions.
	RunCount int64 `json:"runCount"`
}

// Workflow is an ordered pipeline of tool invocations.
type Workflow struct {
	// ID is the unique identifier (UUID).
	ID string `json:"id"`
	// Name is the human-readable display name.
	Name string `json:"name"`
	// Description explains what the pipeline does.
	Description string `json:"description,omitempty"`
	// Steps execute strictly in array order.
	Steps []Step `json:"steps"`
	// Metadata holds authoring and usage information.
	Metadata Metadata `json:"metadata"`
	// CreatedAt is when the workflow was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the workflow was last modified.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the workflow definition. Step tool names are not
// checked against the registry here; only structure is validated.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidWorkflow)
	}
	if len(w.Name) > nameMaxLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidWorkflow, nameMaxLength)
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("%w: at least one step is required", ErrInvalidWorkflow)
	}

	ids := make(map[string]int, len(w.Steps))
	for i, step := range w.Steps {
		if step.ID == "" {
			return fmt.Errorf("%w: step %d has no id", ErrInvalidWorkflow, i)
		}
		if _, dup := ids[step.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %q", ErrInvalidWorkflow, step.ID)
		}
		ids[step.ID] = i
	}

	for i, step := range w.Steps {
		if step.ToolName == "" {
			return fmt.Errorf("%w: step %q has no tool name", ErrInvalidWorkflow, step.ID)
		}
		for key, m := range step.Input.Mappings {
			src, ok := ids[m.StepID]
			if !ok {
				return fmt.Errorf("%w: step %q maps %q from unknown step %q",
					ErrInvalidWorkflow, step.ID, key, m.StepID)
			}
			if src >= i {
				return fmt.Errorf("%w: step %q maps %q from step %q which does not run before it",
					ErrInvalidWorkflow, step.ID, key, m.StepID)
			}
		}
		if err := validateCondition(step.Condition, step.ID, ids); err != nil {
			return err
		}
		if step.Retry != nil {
			if step.Retry.MaxRetries < 0 || step.Retry.MaxRetries > maxRetriesCeiling {
				return fmt.Errorf("%w: step %q retry must be between 0 and %d",
					ErrInvalidWorkflow, step.ID, maxRetriesCeiling)
			}
		}
	}
	return nil
}

func validateCondition(c *Condition, stepID string, ids map[string]int) error {
	if c == nil {
		return nil
	}
	if c.Type != ConditionIf && c.Type != ConditionSwitch {
		return fmt.Errorf("%w: step %q condition type must be %q or %q",
			ErrInvalidWorkflow, stepID, ConditionIf, ConditionSwitch)
	}
	if c.Expression == "" {
		return fmt.Errorf("%w: step %q condition has no expression", ErrInvalidWorkflow, stepID)
	}
	if c.Type == ConditionSwitch && len(c.Cases) == 0 {
		return fmt.Errorf("%w: step %q switch condition has no cases", ErrInvalidWorkflow, stepID)
	}
	for _, cs := range c.Cases {
		if cs.StepID == "" {
			continue
		}
		if _, ok := ids[cs.StepID]; !ok {
			return fmt.Errorf("%w: step %q case references unknown step %q",
				ErrInvalidWorkflow, stepID, cs.StepID)
		}
	}
	return nil
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	clone := *w
	clone.Steps = make([]Step, len(w.Steps))
	for i, step := range w.Steps {
		clone.Steps[i] = step.clone()
	}
	if w.Metadata.Tags != nil {
		clone.Metadata.Tags = append([]string(nil), w.Metadata.Tags...)
	}
	if w.Metadata.LastRun != nil {
		t := *w.Metadata.LastRun
		clone.Metadata.LastRun = &t
	}
	return &clone
}

func (s Step) clone() Step {
	clone := s
	if s.Input.Static != nil {
		clone.Input.Static = make(map[string]any, len(s.Input.Static))
		for k, v := range s.Input.Static {
			clone.Input.Static[k] = v
		}
	}
	if s.Input.Mappings != nil {
		clone.Input.Mappings = make(map[string]Mapping, len(s.Input.Mappings))
		for k, v := range s.Input.Mappings {
			clone.Input.Mappings[k] = v
		}
	}
	if s.Condition != nil {
		cond := *s.Condition
		cond.Cases = append([]Case(nil), s.Condition.Cases...)
		clone.Condition = &cond
	}
	if s.Retry != nil {
		retry := *s.Retry
		clone.Retry = &retry
	}
	return clone
}

// DataFlowEdge records that one step's output fed another step's input.
type DataFlowEdge struct {
	FromStep string `json:"fromStep"`
	ToStep   string `json:"toStep"`
	InputKey string `json:"inputKey"`
}

// StepResult records the outcome of one step within an execution.
type StepResult struct {
	StepID   string     `json:"stepId"`
	ToolName string     `json:"toolName"`
	Status   StepStatus `json:"status"`
	// Output is the tool's result value (completed steps only).
	Output any `json:"output,omitempty"`
	// Error describes the failure or skip reason.
	Error string `json:"error,omitempty"`
	// Attempts is how many times the tool was executed.
	Attempts int `json:"attempts"`
	// Duration is the step's wall-clock time in milliseconds.
	Duration   int64     `json:"durationMs"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Execution tracks one run of a workflow.
type Execution struct {
	// ID is the unique execution identifier (UUID).
	ID string `json:"executionId"`
	// WorkflowID references the executed workflow.
	WorkflowID string `json:"workflowId"`
	// WorkflowName is denormalized for display.
	WorkflowName string `json:"workflowName"`
	// Status is the overall execution state.
	Status ExecutionStatus `json:"status"`
	// StepResults accumulates one entry per reached step, in order.
	StepResults []StepResult `json:"stepResults"`
	// DataFlow records which step fed which input.
	DataFlow []DataFlowEdge `json:"dataFlow,omitempty"`
	// CurrentStep is the ID of the step being executed, if any.
	CurrentStep string `json:"currentStep,omitempty"`
	// CompletedSteps counts steps that finished successfully.
	CompletedSteps int `json:"completedSteps"`
	// TotalSteps is the number of steps in the workflow.
	TotalSteps int `json:"totalSteps"`
	// Success is true once the execution completed without failure.
	Success bool `json:"success"`
	// Error describes the failure, if any.
	Error string `json:"error,omitempty"`
	// StartedAt is when the execution began.
	StartedAt time.Time `json:"startedAt"`
	// FinishedAt is when the execution reached a terminal status.
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	// Duration is the total wall-clock time in milliseconds.
	Duration int64 `json:"durationMs"`
}

// Finished reports whether the execution reached a terminal status.
func (e *Execution) Finished() bool {
	switch e.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Clone returns a deep copy of the execution. Step outputs are shared;
// callers must not mutate them.
func (e *Execution) Clone() *Execution {
	clone := *e
	clone.StepResults = append([]StepResult(nil), e.StepResults...)
	clone.DataFlow = append([]DataFlowEdge(nil), e.DataFlow...)
	return &clone
}
