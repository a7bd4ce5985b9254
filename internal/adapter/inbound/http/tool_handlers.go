package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/toolchest-labs/toolchest/internal/domain/schema"
	"github.com/toolchest-labs/toolchest/internal/domain/tool"
	"github.com/toolchest-labs/toolchest/internal/service"
)

// handleListTools returns all registered tools, optionally filtered by
// the category, tag, and q query parameters.
func (h *apiHandler) handleListTools(w http.ResponseWriter, r *http.Request) {
	filter := tool.Filter{
		Category: r.URL.Query().Get("category"),
		Tag:      r.URL.Query().Get("tag"),
		Query:    r.URL.Query().Get("q"),
	}

	tools, err := h.registry.ListTools(r.Context(), filter)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if tools == nil {
		tools = []*tool.Tool{}
	}
	h.respondJSON(w, http.StatusOK, tools)
}

// handleAddTool registers a new tool. The definition may arrive as JSON
// or, with a YAML Content-Type, as an authored YAML file.
func (h *apiHandler) handleAddTool(w http.ResponseWriter, r *http.Request) {
	var t tool.Tool
	if err := h.readDefinition(w, r, &t); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid tool definition: "+err.Error())
		return
	}
	if strings.TrimSpace(t.Name) == "" {
		h.respondError(w, http.StatusBadRequest, "tool name is required")
		return
	}

	if err := h.registry.AddTool(r.Context(), &t); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	// Re-fetch so the response carries the stored shape (timestamps,
	// backfilled version keys, defaults).
	created, err := h.registry.GetTool(r.Context(), t.Name)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, created)
}

// handleGetTool returns a single tool by name.
func (h *apiHandler) handleGetTool(w http.ResponseWriter, r *http.Request) {
	t, err := h.registry.GetTool(r.Context(), h.pathParam(r, "name"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, t)
}

// handleUpdateTool applies a partial update to a tool. The name is
// immutable; a body naming a different tool is rejected by the
// registry.
func (h *apiHandler) handleUpdateTool(w http.ResponseWriter, r *http.Request) {
	var updates tool.Tool
	if err := h.readJSON(w, r, &updates); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	updated, err := h.registry.UpdateTool(r.Context(), h.pathParam(r, "name"), &updates)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

// handleDeleteTool removes a tool and all its versions.
func (h *apiHandler) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteTool(r.Context(), h.pathParam(r, "name")); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// searchRequest is the body of POST /api/tools/search.
type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// handleSearchTools performs fuzzy tool discovery over the registry.
func (h *apiHandler) handleSearchTools(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.respondError(w, http.StatusBadRequest, "search query is required")
		return
	}

	matches, err := h.registry.FindTool(r.Context(), req.Query, req.Limit)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if matches == nil {
		matches = []service.ToolMatch{}
	}
	h.respondJSON(w, http.StatusOK, matches)
}

// proposeRequest is the body of POST /api/tools/propose.
type proposeRequest struct {
	Description string `json:"description"`
}

// handleProposeTool asks the model to draft a tool from a natural
// language description. The draft is returned unregistered; the client
// reviews it and POSTs it to /api/tools.
func (h *apiHandler) handleProposeTool(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		h.respondError(w, http.StatusBadRequest, "tool description is required")
		return
	}

	draft, err := h.registry.ProposeNewTool(r.Context(), req.Description)
	if err != nil {
		if errors.Is(err, service.ErrLLMNotConfigured) {
			h.respondDomainError(w, r, err)
			return
		}
		// The model responded but the draft was unusable.
		h.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, draft)
}

// handleRegistryStats returns registry-wide usage statistics.
func (h *apiHandler) handleRegistryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.GetToolStats(r.Context())
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// handleRunTool executes a tool's current version with the request body
// as input. An unknown tool is a 404; a failed execution is a 200 with
// success=false, because the failure belongs to the tool, not the
// request.
func (h *apiHandler) handleRunTool(w http.ResponseWriter, r *http.Request) {
	name := h.pathParam(r, "name")
	if _, err := h.registry.GetTool(r.Context(), name); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	input := map[string]any{}
	if err := h.readOptionalJSON(w, r, &input); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	result := h.registry.ExecuteTool(r.Context(), name, input)
	h.respondJSON(w, http.StatusOK, result)
}

// handleValidateInput checks the request body against the tool's input
// schema without executing anything.
func (h *apiHandler) handleValidateInput(w http.ResponseWriter, r *http.Request) {
	h.validateAgainstSchema(w, r, h.registry.ValidateInput)
}

// handleValidateOutput checks the request body against the tool's
// output schema.
func (h *apiHandler) handleValidateOutput(w http.ResponseWriter, r *http.Request) {
	h.validateAgainstSchema(w, r, h.registry.ValidateOutput)
}

func (h *apiHandler) validateAgainstSchema(w http.ResponseWriter, r *http.Request, validate func(ctx context.Context, name string, data any) (*schema.Result, error)) {
	var data any
	if err := h.readOptionalJSON(w, r, &data); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	result, err := validate(r.Context(), h.pathParam(r, "name"), data)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleListVersions returns a tool's version history, newest first.
func (h *apiHandler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.registry.ListVersions(r.Context(), h.pathParam(r, "name"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if versions == nil {
		versions = []*tool.Version{}
	}
	h.respondJSON(w, http.StatusOK, versions)
}

// handleCreateVersion adds a new version to a tool.
func (h *apiHandler) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var v tool.Version
	if err := h.readJSON(w, r, &v); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(v.Version) == "" {
		h.respondError(w, http.StatusBadRequest, "version is required")
		return
	}

	name := h.pathParam(r, "name")
	if err := h.registry.CreateVersion(r.Context(), name, &v); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	created, err := h.registry.GetVersion(r.Context(), name, v.Version)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, created)
}

// handleGetVersion returns one exact version of a tool.
func (h *apiHandler) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.registry.GetVersion(r.Context(), h.pathParam(r, "name"), h.pathParam(r, "version"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, v)
}

// setVersionRequest is the body of PUT /api/tools/{name}/current-version.
type setVersionRequest struct {
	Version string `json:"version"`
}

// handleSetCurrentVersion switches the version executed by default.
func (h *apiHandler) handleSetCurrentVersion(w http.ResponseWriter, r *http.Request) {
	var req setVersionRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Version) == "" {
		h.respondError(w, http.StatusBadRequest, "version is required")
		return
	}

	name := h.pathParam(r, "name")
	if err := h.registry.SetCurrentVersion(r.Context(), name, req.Version); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	t, err := h.registry.GetTool(r.Context(), name)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, t)
}

// handleResolveDependencies returns the dependency list of a tool
// version (current version unless ?version= is given) without
// installing anything.
func (h *apiHandler) handleResolveDependencies(w http.ResponseWriter, r *http.Request) {
	deps, err := h.registry.ResolveDependencies(r.Context(), h.pathParam(r, "name"), r.URL.Query().Get("version"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if deps == nil {
		deps = []tool.Dependency{}
	}
	h.respondJSON(w, http.StatusOK, deps)
}

// installRequest is the body of POST /api/tools/{name}/dependencies/install.
type installRequest struct {
	Version string `json:"version,omitempty"`
}

// handleInstallDependencies installs a tool version's dependencies and
// reports the per-package outcome. Partial failure is a 200 with
// success=false in the body.
func (h *apiHandler) handleInstallDependencies(w http.ResponseWriter, r *http.Request) {
	var req installRequest
	if err := h.readOptionalJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	result, err := h.registry.InstallDependencies(r.Context(), h.pathParam(r, "name"), req.Version)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleToolMetrics returns a tool's execution metrics.
func (h *apiHandler) handleToolMetrics(w http.ResponseWriter, r *http.Request) {
	t, err := h.registry.GetTool(r.Context(), h.pathParam(r, "name"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	metrics := t.Metrics
	if metrics == nil {
		metrics = &tool.Metrics{}
	}
	h.respondJSON(w, http.StatusOK, metrics)
}
