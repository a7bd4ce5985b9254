package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/toolchest-labs/toolchest/internal/domain/category"
	"github.com/toolchest-labs/toolchest/internal/domain/tool"
	"github.com/toolchest-labs/toolchest/internal/domain/workflow"
	"github.com/toolchest-labs/toolchest/internal/service"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
// Tool code and workflow definitions fit comfortably; anything larger
// is a client bug.
const maxRequestBodySize = 1 << 20

// apiHandler serves the REST API. All routes delegate to the registry
// and the workflow services; the handler owns request decoding, status
// mapping, and the per-route API key checks.
type apiHandler struct {
	registry    *service.ToolRegistry
	workflows   *service.WorkflowService
	suggestions *service.SuggestionService
	recorder    *service.ExecutionRecorder
	apiKeys     []APIKey
	logger      *slog.Logger
}

// Routes builds the API mux. Mutating routes and routes that spend
// model tokens are wrapped in requireKey; read-only routes are open.
func (h *apiHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Tool registry. Literal segments (search, propose, stats) must be
	// registered on the same level as {name} — ServeMux prefers them.
	mux.HandleFunc("GET /api/tools", h.handleListTools)
	mux.HandleFunc("POST /api/tools", h.requireKey(h.handleAddTool))
	mux.HandleFunc("POST /api/tools/search", h.handleSearchTools)
	mux.HandleFunc("POST /api/tools/propose", h.requireKey(h.handleProposeTool))
	mux.HandleFunc("GET /api/tools/stats", h.handleRegistryStats)
	mux.HandleFunc("GET /api/tools/{name}", h.handleGetTool)
	mux.HandleFunc("PUT /api/tools/{name}", h.requireKey(h.handleUpdateTool))
	mux.HandleFunc("DELETE /api/tools/{name}", h.requireKey(h.handleDeleteTool))
	mux.HandleFunc("POST /api/tools/{name}/run", h.requireKey(h.handleRunTool))
	mux.HandleFunc("POST /api/tools/{name}/validate-input", h.handleValidateInput)
	mux.HandleFunc("POST /api/tools/{name}/validate-output", h.handleValidateOutput)
	mux.HandleFunc("GET /api/tools/{name}/versions", h.handleListVersions)
	mux.HandleFunc("POST /api/tools/{name}/versions", h.requireKey(h.handleCreateVersion))
	mux.HandleFunc("GET /api/tools/{name}/versions/{version}", h.handleGetVersion)
	mux.HandleFunc("PUT /api/tools/{name}/current-version", h.requireKey(h.handleSetCurrentVersion))
	mux.HandleFunc("GET /api/tools/{name}/dependencies", h.handleResolveDependencies)
	mux.HandleFunc("POST /api/tools/{name}/dependencies/install", h.requireKey(h.handleInstallDependencies))
	mux.HandleFunc("GET /api/tools/{name}/metrics", h.handleToolMetrics)

	// Categories.
	mux.HandleFunc("GET /api/categories", h.handleListCategories)
	mux.HandleFunc("POST /api/categories", h.requireKey(h.handleCreateCategory))
	mux.HandleFunc("GET /api/categories/{id}", h.handleGetCategory)
	mux.HandleFunc("PUT /api/categories/{id}", h.requireKey(h.handleUpdateCategory))
	mux.HandleFunc("DELETE /api/categories/{id}", h.requireKey(h.handleDeleteCategory))

	// Workflows and executions.
	mux.HandleFunc("GET /api/workflows", h.handleListWorkflows)
	mux.HandleFunc("POST /api/workflows", h.requireKey(h.handleSaveWorkflow))
	mux.HandleFunc("GET /api/workflows/{id}", h.handleGetWorkflow)
	mux.HandleFunc("PUT /api/workflows/{id}", h.requireKey(h.handleUpdateWorkflow))
	mux.HandleFunc("DELETE /api/workflows/{id}", h.requireKey(h.handleDeleteWorkflow))
	mux.HandleFunc("POST /api/workflows/{id}/execute", h.requireKey(h.handleExecuteWorkflow))
	mux.HandleFunc("GET /api/workflows/{id}/executions", h.handleListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", h.handleGetExecution)
	mux.HandleFunc("POST /api/executions/{id}/cancel", h.requireKey(h.handleCancelExecution))

	// Suggestions and activity feed.
	mux.HandleFunc("POST /api/suggestions", h.requireKey(h.handleSuggest))
	mux.HandleFunc("GET /api/events/recent", h.handleRecentEvents)

	return mux
}

// requireKey wraps a handler with the API key check. With no keys
// configured the check is a no-op: the operator opted out (dev mode or
// localhost-only deployments).
func (h *apiHandler) requireKey(next http.HandlerFunc) http.HandlerFunc {
	if len(h.apiKeys) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := matchAPIKey(h.apiKeys, bearerToken(r))
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			h.respondError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		LoggerFromContext(r.Context()).Debug("authenticated", "key_name", name)
		next(w, r)
	}
}

// respondJSON writes a JSON response with the given status code.
func (h *apiHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code
// and message.
func (h *apiHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps domain sentinel errors to HTTP status codes.
// Anything unmapped is a 500 with the detail kept out of the response.
func (h *apiHandler) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tool.ErrToolNotFound),
		errors.Is(err, tool.ErrVersionNotFound),
		errors.Is(err, category.ErrCategoryNotFound),
		errors.Is(err, workflow.ErrWorkflowNotFound),
		errors.Is(err, workflow.ErrExecutionNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tool.ErrToolExists),
		errors.Is(err, tool.ErrVersionExists),
		errors.Is(err, workflow.ErrWorkflowExists),
		errors.Is(err, workflow.ErrExecutionFinished),
		errors.Is(err, category.ErrCategoryInUse):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, tool.ErrInvalidTool),
		errors.Is(err, tool.ErrNameImmutable),
		errors.Is(err, workflow.ErrInvalidWorkflow),
		errors.Is(err, category.ErrParentNotFound),
		errors.Is(err, category.ErrCycle):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrLLMNotConfigured):
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		LoggerFromContext(r.Context()).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// readJSON decodes the request body into the given value, applying the
// body size limit.
func (h *apiHandler) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

// readOptionalJSON is readJSON for routes where an empty body is legal
// (run and execute with no input). A missing or empty body leaves v
// untouched.
func (h *apiHandler) readOptionalJSON(w http.ResponseWriter, r *http.Request, v any) error {
	err := h.readJSON(w, r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// readDefinition decodes a tool or workflow definition body. JSON is
// the default; a YAML Content-Type is accepted too, so definition files
// can be POSTed as authored. The YAML path goes through an any-typed
// bridge so the document lands on the same json struct tags.
func (h *apiHandler) readDefinition(w http.ResponseWriter, r *http.Request, v any) error {
	if !isYAMLContentType(r.Header.Get("Content-Type")) {
		return h.readJSON(w, r, v)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		return err
	}
	var raw any
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("convert YAML: %w", err)
	}
	return json.Unmarshal(data, v)
}

// isYAMLContentType reports whether the media type names YAML.
func isYAMLContentType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	switch mt {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return true
	}
	return strings.HasSuffix(mt, "+yaml")
}

// pathParam extracts a named path parameter from the request URL.
// Uses Go 1.22+ PathValue.
func (h *apiHandler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
