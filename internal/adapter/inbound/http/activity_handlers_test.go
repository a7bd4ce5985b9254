package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/toolchest-labs/toolchest/internal/domain/event"
	"github.com/toolchest-labs/toolchest/internal/domain/workflow"
	"github.com/toolchest-labs/toolchest/internal/service"
)

// cannedCompleter returns a fixed response for every prompt.
type cannedCompleter struct {
	response string
}

func (c *cannedCompleter) Complete(_ context.Context, _ string) (string, error) {
	return c.response, nil
}

// stubEventStore implements event.Store in memory.
type stubEventStore struct {
	mu      sync.Mutex
	records []event.Record
}

func (m *stubEventStore) Append(_ context.Context, records ...event.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *stubEventStore) List(_ context.Context, limit int) ([]event.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.Record, 0, len(m.records))
	for i := len(m.records) - 1; i >= 0; i-- {
		out = append(out, m.records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *stubEventStore) Prune(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

const workflowSuggestionResponse = `Workflow: Count Words
Description: Counts the words in the text.
Steps: word-count | count the words
Confidence: 0.9
Reasoning: Direct fit for the task.
`

func newSuggestionAPI(t *testing.T, response string) *testAPI {
	t.Helper()
	return newTestAPI(t, func(api *apiHandler) {
		api.suggestions = service.NewSuggestionService(
			&cannedCompleter{response: response},
			api.registry,
			nil,
			discardLogger(),
		)
	})
}

func TestSuggest(t *testing.T) {
	ta := newSuggestionAPI(t, workflowSuggestionResponse)
	ta.seedTool(t, "word-count")

	rec := ta.do(t, http.MethodPost, "/api/suggestions", service.SuggestionRequest{
		Task: "count the words in a document",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d\nbody: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var suggestions []workflow.Suggestion
	decodeJSON(t, rec, &suggestions)
	if len(suggestions) != 1 {
		t.Fatalf("suggestions = %d, want 1", len(suggestions))
	}
	if suggestions[0].Name != "Count Words" {
		t.Errorf("name = %q, want Count Words", suggestions[0].Name)
	}
	if len(suggestions[0].Steps) != 1 || suggestions[0].Steps[0].ToolName != "word-count" {
		t.Errorf("steps = %+v, want one word-count step", suggestions[0].Steps)
	}
}

func TestSuggest_ExplicitTools(t *testing.T) {
	// No registry tools; the caller supplies the tool inventory.
	ta := newSuggestionAPI(t, workflowSuggestionResponse)

	rec := ta.do(t, http.MethodPost, "/api/suggestions", service.SuggestionRequest{
		Task:           "count the words in a document",
		AvailableTools: []service.ToolSummary{{Name: "word-count"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d\nbody: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var suggestions []workflow.Suggestion
	decodeJSON(t, rec, &suggestions)
	if len(suggestions) != 1 {
		t.Errorf("suggestions = %d, want 1", len(suggestions))
	}
}

func TestSuggest_EmptyTask(t *testing.T) {
	ta := newSuggestionAPI(t, workflowSuggestionResponse)

	rec := ta.do(t, http.MethodPost, "/api/suggestions", service.SuggestionRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSuggest_NotConfigured(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/suggestions", service.SuggestionRequest{Task: "anything"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestSuggest_NoTools(t *testing.T) {
	// With no tools at all the response is an empty array, not an
	// error and not a model call.
	ta := newSuggestionAPI(t, workflowSuggestionResponse)

	rec := ta.do(t, http.MethodPost, "/api/suggestions", service.SuggestionRequest{Task: "anything"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d\nbody: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestRecentEvents_NoRecorder(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/events/recent", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestRecentEvents(t *testing.T) {
	recorder := service.NewExecutionRecorder(&stubEventStore{}, discardLogger())
	t.Cleanup(recorder.Stop)
	ta := newTestAPI(t, func(api *apiHandler) {
		api.recorder = recorder
	})

	recorder.Emit(event.KindToolAdded, "word-count", "")
	recorder.Emit(event.KindToolExecuted, "word-count", "12ms")

	rec := ta.do(t, http.MethodGet, "/api/events/recent?limit=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var records []event.Record
	decodeJSON(t, rec, &records)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].Kind != event.KindToolExecuted {
		t.Errorf("kind = %q, want newest first (%q)", records[0].Kind, event.KindToolExecuted)
	}
}

func TestRecentEvents_BadLimit(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/events/recent?limit=-3", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
