package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/toolchest-labs/toolchest/internal/domain/workflow"
)

// workflowsReady guards routes that need the workflow engine. The
// transport can run registry-only; the engine is optional wiring.
func (h *apiHandler) workflowsReady(w http.ResponseWriter) bool {
	if h.workflows == nil {
		h.respondError(w, http.StatusServiceUnavailable, "workflow engine not configured")
		return false
	}
	return true
}

// handleListWorkflows returns all stored workflow definitions.
func (h *apiHandler) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	if !h.workflowsReady(w) {
		return
	}
	workflows, err := h.workflows.ListWorkflows(r.Context())
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if workflows == nil {
		workflows = []*workflow.Workflow{}
	}
	h.respondJSON(w, http.StatusOK, workflows)
}

// handleSaveWorkflow stores a new workflow definition after
// validation. The definition may arrive as JSON or, with a YAML
// Content-Type, as an authored YAML file.
func (h *apiHandler) handleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	if !h.workflowsReady(w) {
		return
	}
	var wf workflow.Workflow
	if err := h.readDefinition(w, r, &wf); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid workflow definition: "+err.Error())
		return
	}
	if strings.TrimSpace(wf.Name) == "" {
		h.respondError(w, http.StatusBadRequest, "workflow name is required")
		return
	}

	saved, err := h.workflows.SaveWorkflow(r.Context(), &wf)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, saved)
}

// handleGetWorkflow returns a single workflow definition.
func (h *apiHandler) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	if !h.workflowsReady(w) {
		return
	}
	wf, err := h.workflows.GetWorkflow(r.Context(), h.pathParam(r, "id"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, wf)
}

// handleUpdateWorkflow replaces the mutable parts of a workflow. The
// updated definition is revalidated before it is stored.
func (h *apiHandler) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	if !h.workflowsReady(w) {
		return
	}
	var updates workflow.Workflow
	if err := h.readJSON(w, r, &updates); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	updated, err := h.workflows.UpdateWorkflow(r.Context(), h.pathParam(r, "id"), &updates)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

// handleDeleteWorkflow removes a workflow definition. Past executions
// stay queryable.
func (h *apiHandler) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if !h.workflowsReady(w) {
		return
	}
	if err := h.workflows.DeleteWorkflow(r.Context(), h.pathParam(r, "id")); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExecuteWorkflow runs a workflow with the request body as
// input. The default is synchronous: the response is the finished
// execution. With ?async=true the run is detached and the response is
// a 202 carrying the execution ID to poll.
func (h *apiHandler) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	if !h.workflowsReady(w) {
		return
	}
	id := h.pathParam(r, "id")

	input := map[string]any{}
	if err := h.readOptionalJSON(w, r, &input); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if r.URL.Query().Get("async") == "true" {
		executionID, err := h.workflows.StartWorkflow(r.Context(), id, input)
		if err != nil {
			h.respondDomainError(w, r, err)
			return
		}
		h.respondJSON(w, http.StatusAccepted, map[string]string{"executionId": executionID})
		return
	}

	exec, err := h.workflows.ExecuteWorkflow(r.Context(), id, input)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, exec)
}

// handleListExecutions returns the execution history of one workflow,
// newest first. ?limit= caps the result.
func (h *apiHandler) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if !h.workflowsReady(w) {
		return
	}
	id := h.pathParam(r, "id")
	if _, err := h.workflows.GetWorkflow(r.Context(), id); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	executions, err := h.workflows.ListExecutions(r.Context(), id, limit)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if executions == nil {
		executions = []*workflow.Execution{}
	}
	h.respondJSON(w, http.StatusOK, executions)
}

// handleGetExecution returns one execution, live or from history.
func (h *apiHandler) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if !h.workflowsReady(w) {
		return
	}
	exec, err := h.workflows.GetExecution(r.Context(), h.pathParam(r, "id"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, exec)
}

// handleCancelExecution requests cancellation of a running execution.
// Cancellation is asynchronous: the in-flight step finishes first, so
// the response is a 202 and the client polls the execution status.
func (h *apiHandler) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	if !h.workflowsReady(w) {
		return
	}
	id := h.pathParam(r, "id")
	if err := h.workflows.CancelExecution(r.Context(), id); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{
		"executionId": id,
		"status":      "cancelling",
	})
}
