package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/toolchest-labs/toolchest/internal/adapter/outbound/memory"
	"github.com/toolchest-labs/toolchest/internal/domain/event"
	"github.com/toolchest-labs/toolchest/internal/service"
)

// stubPinger fakes storage connectivity.
type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(context.Context) error { return p.err }

func TestHealthChecker_Healthy(t *testing.T) {
	cache := memory.NewToolCache()
	cache.Set(sampleTool("word-count"))

	recorder := service.NewExecutionRecorder(&stubEventStore{}, discardLogger())
	t.Cleanup(recorder.Stop)

	hc := NewHealthChecker(&stubPinger{}, cache, recorder, "test-version")
	health := hc.Check(context.Background())

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", health.Version)
	}
	if health.Checks["storage"] != "ok" {
		t.Errorf("storage check = %q, want ok", health.Checks["storage"])
	}
	if health.Checks["tools"] != "ok: 1 cached" {
		t.Errorf("tools check = %q, want 'ok: 1 cached'", health.Checks["tools"])
	}
	if !strings.HasPrefix(health.Checks["events"], "ok:") {
		t.Errorf("events check = %q, want ok", health.Checks["events"])
	}
}

func TestHealthChecker_NilComponents(t *testing.T) {
	hc := NewHealthChecker(nil, nil, nil, "")
	health := hc.Check(context.Background())

	// Should still be healthy with nil components
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Checks["storage"] != "not configured" {
		t.Errorf("storage = %q, want 'not configured'", health.Checks["storage"])
	}
	if health.Checks["tools"] != "not configured" {
		t.Errorf("tools = %q, want 'not configured'", health.Checks["tools"])
	}
	if health.Checks["events"] != "not configured" {
		t.Errorf("events = %q, want 'not configured'", health.Checks["events"])
	}
}

func TestHealthChecker_StoragePingFailure(t *testing.T) {
	hc := NewHealthChecker(&stubPinger{err: errors.New("disk gone")}, nil, nil, "")
	health := hc.Check(context.Background())

	if health.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy", health.Status)
	}
	if !strings.Contains(health.Checks["storage"], "disk gone") {
		t.Errorf("storage check = %q, want ping error surfaced", health.Checks["storage"])
	}
}

func TestHealthChecker_Handler_HTTP(t *testing.T) {
	hc := NewHealthChecker(&stubPinger{}, nil, nil, "1.0.0")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}

	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", contentType)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("Response status = %q, want healthy", resp.Status)
	}
	if resp.Version != "1.0.0" {
		t.Errorf("Response version = %q, want 1.0.0", resp.Version)
	}
}

func TestHealthChecker_Unhealthy_EventsFull(t *testing.T) {
	// Tiny buffer, no worker consuming, drop immediately when full.
	recorder := service.NewExecutionRecorder(&stubEventStore{}, discardLogger(),
		service.WithRecorderBufferSize(10),
		service.WithRecorderSendTimeout(0),
	)
	t.Cleanup(recorder.Stop)

	for i := 0; i < 10; i++ {
		recorder.Record(event.Record{Kind: event.KindToolExecuted, Subject: "test"})
	}

	hc := NewHealthChecker(nil, nil, recorder, "")
	health := hc.Check(context.Background())

	if health.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy (event buffer >90%% full)", health.Status)
	}
	if !strings.HasPrefix(health.Checks["events"], "degraded:") {
		t.Errorf("events check = %q, want degraded", health.Checks["events"])
	}
}

func TestHealthChecker_Handler_Unhealthy_503(t *testing.T) {
	recorder := service.NewExecutionRecorder(&stubEventStore{}, discardLogger(),
		service.WithRecorderBufferSize(10),
		service.WithRecorderSendTimeout(0),
	)
	t.Cleanup(recorder.Stop)

	// Fill the buffer completely. The extra record is dropped and
	// surfaces in the events_dropped check.
	for i := 0; i < 11; i++ {
		recorder.Record(event.Record{Kind: event.KindToolExecuted, Subject: "test"})
	}

	hc := NewHealthChecker(nil, nil, recorder, "")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status code = %d, want %d (503 Service Unavailable)", rec.Code, http.StatusServiceUnavailable)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Status != "unhealthy" {
		t.Errorf("Response status = %q, want unhealthy", resp.Status)
	}
	if resp.Checks["events_dropped"] == "" {
		t.Error("events_dropped check should be present after a drop")
	}
}

func TestHealthChecker_GoroutineCount(t *testing.T) {
	hc := NewHealthChecker(nil, nil, nil, "")
	health := hc.Check(context.Background())

	// Goroutines should be a positive number string
	if health.Checks["goroutines"] == "" {
		t.Error("goroutines check should be present")
	}
	if health.Checks["goroutines"] == "0" {
		t.Error("goroutines count should be > 0")
	}
}
