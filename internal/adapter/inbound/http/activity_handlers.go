package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/toolchest-labs/toolchest/internal/domain/event"
	"github.com/toolchest-labs/toolchest/internal/domain/workflow"
	"github.com/toolchest-labs/toolchest/internal/service"
)

// handleSuggest asks the model for workflow suggestions composing the
// registered tools for a task.
func (h *apiHandler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if h.suggestions == nil {
		h.respondError(w, http.StatusServiceUnavailable, service.ErrLLMNotConfigured.Error())
		return
	}

	var req service.SuggestionRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		h.respondError(w, http.StatusBadRequest, "task description is required")
		return
	}

	suggestions, err := h.suggestions.Suggest(r.Context(), req)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if suggestions == nil {
		suggestions = []workflow.Suggestion{}
	}
	h.respondJSON(w, http.StatusOK, suggestions)
}

// handleRecentEvents returns the newest activity records from the
// recorder's in-memory ring, newest first. ?limit= caps the result
// (default 50). Without a recorder the feed is empty, not an error.
func (h *apiHandler) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	var records []event.Record
	if h.recorder != nil {
		records = h.recorder.Recent(limit)
	}
	if records == nil {
		records = []event.Record{}
	}
	h.respondJSON(w, http.StatusOK, records)
}
