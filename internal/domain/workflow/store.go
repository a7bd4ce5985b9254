package workflow

import (
	"context"
	"errors"
)

// Sentinel errors for workflow operations.
var (
	// ErrWorkflowNotFound is returned when no workflow with the ID exists.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrWorkflowExists is returned when creating a workflow whose ID
	// is already taken.
	ErrWorkflowExists = errors.New("workflow already exists")
	// ErrInvalidWorkflow is returned when a workflow definition fails
	// validation.
	ErrInvalidWorkflow = errors.New("invalid workflow")
	// ErrExecutionNotFound is returned when no execution with the ID exists.
	ErrExecutionNotFound = errors.New("workflow execution not found")
	// ErrExecutionFinished is returned when cancelling an execution that
	// already reached a terminal status.
	ErrExecutionFinished = errors.New("workflow execution already finished")
)

// Store persists workflow definitions.
//
// Implementations: sqlite package.
type Store interface {
	// Create stores a new workflow.
	// Returns ErrWorkflowExists if the ID is already taken.
	Create(ctx context.Context, w *Workflow) error

	// Get returns the workflow with the ID.
	// Returns ErrWorkflowNotFound if it does not exist.
	Get(ctx context.Context, id string) (*Workflow, error)

	// Update replaces the stored workflow.
	// Returns ErrWorkflowNotFound if it does not exist.
	Update(ctx context.Context, w *Workflow) error

	// Delete removes the workflow with the ID.
	// Returns ErrWorkflowNotFound if it does not exist.
	Delete(ctx context.Context, id string) error

	// List returns all workflows.
	List(ctx context.Context) ([]*Workflow, error)
}

// ExecutionStore tracks live execution progress. Entries are queryable
// mid-flight and expire after a retention window once terminal.
//
// Implementations must return deep copies so callers can poll progress
// while the engine keeps mutating its own record.
//
// Implementations: memory package.
type ExecutionStore interface {
	// Put stores or replaces the execution snapshot.
	Put(ctx context.Context, e *Execution) error

	// Get returns the execution with the ID.
	// Returns ErrExecutionNotFound if it does not exist.
	Get(ctx context.Context, id string) (*Execution, error)

	// List returns executions, newest first. workflowID filters by
	// workflow when non-empty.
	List(ctx context.Context, workflowID string) ([]*Execution, error)

	// Delete removes the execution with the ID.
	// Returns ErrExecutionNotFound if it does not exist.
	Delete(ctx context.Context, id string) error
}

// HistoryStore persists terminal executions for post-hoc inspection.
//
// Implementations: sqlite package.
type HistoryStore interface {
	// SaveExecution appends a terminal execution record.
	SaveExecution(ctx context.Context, e *Execution) error

	// GetExecution returns the stored execution with the ID.
	// Returns ErrExecutionNotFound if it does not exist.
	GetExecution(ctx context.Context, id string) (*Execution, error)

	// ListExecutions returns stored executions newest first, filtered
	// by workflow when workflowID is non-empty, capped at limit
	// (0 means no cap).
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]*Execution, error)
}
