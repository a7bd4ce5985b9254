// Package event contains domain types for the activity log. Every
// registry and workflow operation appends a record so observers can
// reconstruct what happened and when.
package event

import (
	"context"
	"time"
)

// Record kinds, dotted subject-first.
const (
	// KindToolAdded is appended when a tool is registered.
	KindToolAdded = "tool.added"
	// KindToolUpdated is appended when a tool definition changes.
	KindToolUpdated = "tool.updated"
	// KindToolDeleted is appended when a tool is removed.
	KindToolDeleted = "tool.deleted"
	// KindToolExecuted is appended after a successful execution.
	KindToolExecuted = "tool.executed"
	// KindToolExecutionFailed is appended after a failed execution.
	KindToolExecutionFailed = "tool.execution_failed"

	// KindWorkflowSaved is appended when a workflow is created or updated.
	KindWorkflowSaved = "workflow.saved"
	// KindWorkflowDeleted is appended when a workflow is removed.
	KindWorkflowDeleted = "workflow.deleted"
	// KindWorkflowStarted is appended when an execution begins.
	KindWorkflowStarted = "workflow.started"
	// KindWorkflowCompleted is appended when an execution finishes cleanly.
	KindWorkflowCompleted = "workflow.completed"
	// KindWorkflowFailed is appended when an execution fails or is cancelled.
	KindWorkflowFailed = "workflow.failed"
	// KindConditionError is appended when a step condition cannot be
	// evaluated and the step is skipped.
	KindConditionError = "workflow.condition_error"

	// KindInstallerRun is appended after a dependency install run.
	KindInstallerRun = "installer.run"
	// KindSuggestionServed is appended when workflow suggestions are returned.
	KindSuggestionServed = "suggestion.served"
)

// Record is a single activity log entry.
type Record struct {
	// ID is assigned by the store on append.
	ID int64 `json:"id"`
	// Kind categorizes the record (tool.*, workflow.*, ...).
	Kind string `json:"kind"`
	// Subject names what the record is about: a tool name, a workflow
	// ID, an execution ID.
	Subject string `json:"subject,omitempty"`
	// Detail is free-form context, usually a short JSON document.
	Detail string `json:"detail,omitempty"`
	// CreatedAt is when the record was produced.
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists activity records.
//
// Implementations: sqlite package.
type Store interface {
	// Append writes records to the log.
	Append(ctx context.Context, records ...Record) error
	// List returns records newest first, capped at limit.
	List(ctx context.Context, limit int) ([]Record, error)
	// Prune deletes records older than the cutoff and returns how many
	// were removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}
