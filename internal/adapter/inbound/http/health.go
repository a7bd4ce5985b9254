package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/toolchest-labs/toolchest/internal/domain/tool"
	"github.com/toolchest-labs/toolchest/internal/service"
)

// healthPingTimeout bounds the storage ping so a wedged database cannot
// hang the probe.
const healthPingTimeout = 2 * time.Second

// Pinger reports storage connectivity. *sqlite.Store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker verifies component health.
type HealthChecker struct {
	db       Pinger
	tools    tool.Cache
	recorder *service.ExecutionRecorder
	version  string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(db Pinger, tools tool.Cache, recorder *service.ExecutionRecorder, version string) *HealthChecker {
	return &HealthChecker{
		db:       db,
		tools:    tools,
		recorder: recorder,
		version:  version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
		if err := h.db.Ping(pingCtx); err != nil {
			checks["storage"] = fmt.Sprintf("error: %v", err)
			healthy = false
		} else {
			checks["storage"] = "ok"
		}
		cancel()
	} else {
		checks["storage"] = "not configured"
	}

	if h.tools != nil {
		checks["tools"] = fmt.Sprintf("ok: %d cached", h.tools.Count())
	} else {
		checks["tools"] = "not configured"
	}

	// The event recorder persists asynchronously; a nearly full buffer
	// means the write path is not keeping up.
	if h.recorder != nil {
		depth := h.recorder.ChannelDepth()
		capacity := h.recorder.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		if percentFull > 90 {
			checks["events"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["events"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}

		if drops := h.recorder.DroppedRecords(); drops > 0 {
			checks["events_dropped"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["events"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}

// healthHandler is the fallback when no HealthChecker is configured.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
