package http

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
)

// requestIDContextKey is the type for the request ID context key.
type requestIDContextKey struct{}

// loggerContextKey is the type for the enriched logger context key.
type loggerContextKey struct{}

// RequestIDMiddleware extracts or generates a request ID, stores an
// enriched logger in the context, echoes the ID in the X-Request-ID
// response header, and logs request completion with status and
// duration.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, quiet := quietPaths[r.URL.Path]; quiet {
				next.ServeHTTP(w, r)
				return
			}

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enriched := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), requestIDContextKey{}, requestID)
			ctx = context.WithValue(ctx, loggerContextKey{}, enriched)

			w.Header().Set("X-Request-ID", requestID)

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			enriched.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// RequestIDFromContext retrieves the request ID from context, or "" if
// none was assigned.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return id
	}
	return ""
}

// RecoverMiddleware turns handler panics into 500 responses instead of
// killing the connection. Tool and workflow handlers run user-supplied
// payloads through the engine, so panics are logged with a stack.
func RecoverMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic",
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware sets baseline response headers and handles
// CORS. Origins not in the allowlist get no CORS headers, so browser
// clients from unknown origins are rejected by the browser itself.
// Non-browser clients are unaffected. With an empty allowlist the API
// is same-origin only.
func SecurityHeadersMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			origin := r.Header.Get("Origin")
			if origin != "" {
				if _, ok := allowed[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
				}
			}

			// CORS preflight never reaches the method-matched mux.
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// APIKey is one accepted client credential. Hash is an argon2id hash in
// the standard $argon2id$... encoded form; raw keys are never stored.
type APIKey struct {
	Name string
	Hash string
}

// argon2idParams follow the RFC 9106 low-memory recommendation
// (47 MiB, 1 iteration). Key verification happens on every mutating
// request, so the heavier profile would be noticeable.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashAPIKey hashes a raw API key for storage in config. The output is
// the standard encoded form accepted by auth.api_keys.key_hash.
func HashAPIKey(key string) (string, error) {
	return argon2id.CreateHash(key, argon2idParams)
}

// bearerToken extracts the token from an Authorization: Bearer header,
// or "" if the header is missing or not Bearer.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// matchAPIKey compares the presented key against each configured hash
// and returns the matching key's name. argon2id comparison is constant
// time per hash.
func matchAPIKey(keys []APIKey, presented string) (string, bool) {
	if presented == "" {
		return "", false
	}
	for _, k := range keys {
		if safeArgon2idCompare(presented, k.Hash) {
			return k.Name, true
		}
	}
	return "", false
}

// safeArgon2idCompare wraps the argon2id comparison with panic
// recovery. A malformed stored hash must read as a failed match, not a
// crashed request.
func safeArgon2idCompare(key, hash string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	match, err := argon2id.ComparePasswordAndHash(key, hash)
	return err == nil && match
}
