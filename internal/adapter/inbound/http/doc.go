// Package http exposes the tool registry and workflow engine over a
// JSON REST API.
//
// # Usage
//
// Create and start a transport:
//
//	transport := http.NewTransport(registry,
//	    http.WithAddr("127.0.0.1:8420"),
//	    http.WithWorkflowService(workflows),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// Start blocks until the context is cancelled or the server fails, and
// shuts the server down gracefully on cancellation.
//
// # Endpoints
//
// Tools live under /api/tools, categories under /api/categories,
// workflows under /api/workflows and /api/executions, workflow
// suggestions under /api/suggestions, and the activity feed under
// /api/events/recent. /health and /metrics are served outside the API
// middleware chain.
//
// # Request Headers
//
//	Authorization: Bearer <api-key>  - API key (mutating routes only)
//	Content-Type: application/json   - Required for requests with a body
//	X-Request-ID: <id>               - Optional correlation ID, echoed back
//
// # Middleware Chain
//
// API requests pass through middleware in this order:
//
//  1. MetricsMiddleware - records request count and duration
//  2. RequestIDMiddleware - assigns a request ID and logs completion
//  3. RecoverMiddleware - turns handler panics into 500 responses
//  4. SecurityHeadersMiddleware - response headers and CORS preflight
//
// API key checks happen per route: mutating routes (and routes that
// spend model tokens) are wrapped in requireKey, read-only routes are
// not. When the transport is configured without keys, requireKey is a
// no-op.
package http
