package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alexdev-tb/snippet-runner/internal/telemetry"
)

const headerRequestID = "X-Request-Id"

type Router struct {
	mux *http.ServeMux
}

// NewRouter registers every endpoint. metrics may be nil, in which case
// /metrics is not served.
func NewRouter(handler *Handler, metrics *telemetry.Metrics, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = telemetry.Discard()
	}
	r := &Router{mux: http.NewServeMux()}
	r.registerRoutes(handler, metrics)
	return corsMiddleware(requestMiddleware(logger, r.mux))
}

func (r *Router) registerRoutes(handler *Handler, metrics *telemetry.Metrics) {
	r.mux.HandleFunc("/health", handler.Health)

	r.mux.HandleFunc("/v1/run", handler.Run)
	r.mux.HandleFunc("/v1/completion", handler.Completion)

	if metrics != nil {
		r.mux.Handle("/metrics", metrics.Handler())
	}
}

// corsMiddleware adds CORS headers to all responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Timeout, User-Code-Timeout, X-Request-Id")
		w.Header().Set("Access-Control-Expose-Headers", headerRequestID)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// requestMiddleware tags each request with an ID, taken from X-Request-Id
// when the caller sent one, and logs its outcome.
func requestMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := telemetry.WithRequestID(r.Context(), r.Header.Get(headerRequestID))
		w.Header().Set(headerRequestID, telemetry.RequestID(ctx))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.RequestLogger(logger, ctx).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(started),
		)
	})
}
