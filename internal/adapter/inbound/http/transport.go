package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toolchest-labs/toolchest/internal/service"
)

// Transport is the inbound adapter that serves the REST API. The
// registry is required; the workflow engine, suggestion service,
// recorder, and health checker are optional wiring.
type Transport struct {
	registry        *service.ToolRegistry
	workflows       *service.WorkflowService
	suggestions     *service.SuggestionService
	recorder        *service.ExecutionRecorder
	healthChecker   *HealthChecker
	server          *http.Server
	addr            string
	allowedOrigins  []string
	apiKeys         []APIKey
	promRegistry    *prometheus.Registry
	metrics         *Metrics
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// Option is a functional option for configuring the Transport.
type Option func(*Transport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8420" (localhost only).
func WithAddr(addr string) Option {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithWorkflowService wires the workflow engine. Without it the
// workflow and execution routes respond 503.
func WithWorkflowService(s *service.WorkflowService) Option {
	return func(t *Transport) {
		t.workflows = s
	}
}

// WithSuggestionService wires workflow suggestions. Without it
// /api/suggestions responds 503.
func WithSuggestionService(s *service.SuggestionService) Option {
	return func(t *Transport) {
		t.suggestions = s
	}
}

// WithRecorder wires the activity recorder backing /api/events/recent.
func WithRecorder(r *service.ExecutionRecorder) Option {
	return func(t *Transport) {
		t.recorder = r
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
// Without it /health responds with a static ok.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *Transport) {
		t.healthChecker = hc
	}
}

// WithAPIKeys enables the API key check on mutating routes. An empty
// list leaves every route open.
func WithAPIKeys(keys []APIKey) Option {
	return func(t *Transport) {
		t.apiKeys = keys
	}
}

// WithAllowedOrigins sets the origins allowed by CORS. If empty,
// cross-origin browser requests get no CORS headers (same-origin only).
func WithAllowedOrigins(origins []string) Option {
	return func(t *Transport) {
		t.allowedOrigins = origins
	}
}

// WithPrometheusRegistry shares an externally owned metrics registry,
// so engine metrics and HTTP metrics land in one /metrics output. The
// caller keeps responsibility for runtime collectors. Without this
// option the transport creates its own registry with the Go and
// process collectors.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(t *Transport) {
		t.promRegistry = reg
	}
}

// WithShutdownTimeout bounds graceful shutdown. Default is 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.shutdownTimeout = d
	}
}

// NewTransport creates an HTTP transport serving the given registry.
func NewTransport(registry *service.ToolRegistry, opts ...Option) *Transport {
	t := &Transport{
		registry:        registry,
		addr:            "127.0.0.1:8420",
		allowedOrigins:  []string{},
		shutdownTimeout: 10 * time.Second,
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Start begins serving the API. It blocks until the context is
// cancelled or the server fails, and shuts down gracefully on
// cancellation.
func (t *Transport) Start(ctx context.Context) error {
	reg := t.promRegistry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	t.metrics = NewMetrics(reg)

	t.server = &http.Server{
		Addr:    t.addr,
		Handler: t.buildHandler(reg),
	}

	errCh := make(chan error, 1)

	go func() {
		t.logger.Info("starting HTTP server", "addr", t.addr)
		err := t.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// buildHandler assembles the mux and middleware chain. /health,
// /metrics, and the favicon stay outside the API chain.
func (t *Transport) buildHandler(reg *prometheus.Registry) http.Handler {
	api := &apiHandler{
		registry:    t.registry,
		workflows:   t.workflows,
		suggestions: t.suggestions,
		recorder:    t.recorder,
		apiKeys:     t.apiKeys,
		logger:      t.logger,
	}

	// Middleware order (outermost first):
	// 1. MetricsMiddleware - record duration and status for the whole chain
	// 2. RequestIDMiddleware - correlation ID plus completion log
	// 3. RecoverMiddleware - panics become 500s
	// 4. SecurityHeadersMiddleware - response headers and CORS preflight
	var apiChain http.Handler = api.Routes()
	apiChain = SecurityHeadersMiddleware(t.allowedOrigins)(apiChain)
	apiChain = RecoverMiddleware(t.logger)(apiChain)
	apiChain = RequestIDMiddleware(t.logger)(apiChain)
	apiChain = MetricsMiddleware(t.metrics)(apiChain)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiChain)
	if t.healthChecker != nil {
		mux.Handle("/health", t.healthChecker.Handler())
	} else {
		mux.Handle("/health", healthHandler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	}))
	// Favicon handler to keep browser probes out of the 404 logs.
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	return mux
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.shutdownTimeout)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
