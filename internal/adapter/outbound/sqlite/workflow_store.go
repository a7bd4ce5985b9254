package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/toolchest-labs/toolchest/internal/domain/workflow"
)

// CreateWorkflow stores a new workflow.
// Returns workflow.ErrWorkflowExists if the ID is already taken.
func (s *Store) CreateWorkflow(ctx context.Context, w *workflow.Workflow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflows WHERE id = ?`, w.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check workflow existence: %w", err)
	}
	if exists > 0 {
		return workflow.ErrWorkflowExists
	}

	cols, err := workflowColumns(w)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflows (id, document, name, tags, run_count, last_run, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, cols.document, w.Name, cols.tags, cols.runCount, cols.lastRun,
		w.CreatedAt.Unix(), w.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit workflow insert: %w", err)
	}
	return nil
}

// GetWorkflow returns the workflow with the ID.
// Returns workflow.ErrWorkflowNotFound if it does not exist.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document FROM workflows WHERE id = ?`, id)

	var document string
	if err := row.Scan(&document); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, workflow.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	return unmarshalWorkflow(document)
}

// UpdateWorkflow replaces the stored workflow.
// Returns workflow.ErrWorkflowNotFound if it does not exist.
func (s *Store) UpdateWorkflow(ctx context.Context, w *workflow.Workflow) error {
	cols, err := workflowColumns(w)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET document = ?, name = ?, tags = ?, run_count = ?,
			last_run = ?, updated_at = ?
		 WHERE id = ?`,
		cols.document, w.Name, cols.tags, cols.runCount, cols.lastRun,
		w.UpdatedAt.Unix(), w.ID)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update workflow rows affected: %w", err)
	}
	if affected == 0 {
		return workflow.ErrWorkflowNotFound
	}
	return nil
}

// DeleteWorkflow removes the workflow with the ID.
// Returns workflow.ErrWorkflowNotFound if it does not exist.
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete workflow rows affected: %w", err)
	}
	if affected == 0 {
		return workflow.ErrWorkflowNotFound
	}
	return nil
}

// ListWorkflows returns all workflows, name-sorted.
func (s *Store) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM workflows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*workflow.Workflow
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		w, err := unmarshalWorkflow(document)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflows: %w", err)
	}
	return workflows, nil
}

// SaveExecution appends a terminal execution record.
func (s *Store) SaveExecution(ctx context.Context, e *workflow.Execution) error {
	document, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	var finishedAt sql.NullInt64
	if !e.FinishedAt.IsZero() {
		finishedAt = sql.NullInt64{Int64: e.FinishedAt.Unix(), Valid: true}
	}
	success := 0
	if e.Success {
		success = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO executions (id, workflow_id, document, status, success, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkflowID, string(document), string(e.Status), success,
		e.StartedAt.Unix(), finishedAt)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution returns the stored execution with the ID.
// Returns workflow.ErrExecutionNotFound if it does not exist.
func (s *Store) GetExecution(ctx context.Context, id string) (*workflow.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document FROM executions WHERE id = ?`, id)

	var document string
	if err := row.Scan(&document); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, workflow.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	var e workflow.Execution
	if err := json.Unmarshal([]byte(document), &e); err != nil {
		return nil, fmt.Errorf("unmarshal execution document: %w", err)
	}
	return &e, nil
}

// ListExecutions returns stored executions newest first, filtered by
// workflow when workflowID is non-empty, capped at limit (0 = no cap).
func (s *Store) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*workflow.Execution, error) {
	query := `SELECT document FROM executions`
	args := []any{}
	if workflowID != "" {
		query += ` WHERE workflow_id = ?`
		args = append(args, workflowID)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var executions []*workflow.Execution
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		var e workflow.Execution
		if err := json.Unmarshal([]byte(document), &e); err != nil {
			return nil, fmt.Errorf("unmarshal execution document: %w", err)
		}
		executions = append(executions, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return executions, nil
}

type workflowCols struct {
	document string
	tags     string
	runCount int64
	lastRun  sql.NullInt64
}

func workflowColumns(w *workflow.Workflow) (*workflowCols, error) {
	document, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow document: %w", err)
	}

	cols := &workflowCols{
		document: string(document),
		tags:     "[]",
		runCount: w.Metadata.RunCount,
	}
	if len(w.Metadata.Tags) > 0 {
		tags, err := json.Marshal(w.Metadata.Tags)
		if err != nil {
			return nil, fmt.Errorf("marshal workflow tags: %w", err)
		}
		cols.tags = string(tags)
	}
	if w.Metadata.LastRun != nil {
		cols.lastRun = sql.NullInt64{Int64: w.Metadata.LastRun.Unix(), Valid: true}
	}
	return cols, nil
}

func unmarshalWorkflow(document string) (*workflow.Workflow, error) {
	var w workflow.Workflow
	if err := json.Unmarshal([]byte(document), &w); err != nil {
		return nil, fmt.Errorf("unmarshal workflow document: %w", err)
	}
	return &w, nil
}

// workflowStore adapts Store to the workflow.Store interface.
type workflowStore struct {
	*Store
}

// Workflows returns the workflow.Store view of this store.
func (s *Store) Workflows() workflow.Store {
	return workflowStore{s}
}

func (a workflowStore) Create(ctx context.Context, w *workflow.Workflow) error {
	return a.CreateWorkflow(ctx, w)
}

func (a workflowStore) Get(ctx context.Context, id string) (*workflow.Workflow, error) {
	return a.GetWorkflow(ctx, id)
}

func (a workflowStore) Update(ctx context.Context, w *workflow.Workflow) error {
	return a.UpdateWorkflow(ctx, w)
}

func (a workflowStore) Delete(ctx context.Context, id string) error {
	return a.DeleteWorkflow(ctx, id)
}

func (a workflowStore) List(ctx context.Context) ([]*workflow.Workflow, error) {
	return a.ListWorkflows(ctx)
}

// Compile-time interface verification.
var (
	_ workflow.Store        = (workflowStore{})
	_ workflow.HistoryStore = (*Store)(nil)
)
