package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/cloudlog/internal/handlers"
	"github.com/telhawk-systems/cloudlog/internal/logging"
	"github.com/telhawk-systems/cloudlog/internal/middleware"
	"github.com/telhawk-systems/cloudlog/internal/ratelimit"
)

// NewRouter wires HTTP routes for the normalizer service. limiter may be nil; when set it
// bounds normalize requests per source.
func NewRouter(h *handlers.ProcessorHandler, limiter ratelimit.Limiter, logger *logging.Logger) http.Handler {
	perSource := ratelimit.Middleware(limiter, func(r *http.Request) string {
		return "source:" + r.PathValue("source")
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/normalize/{source}", perSource(http.HandlerFunc(h.Normalize)))
	mux.HandleFunc("/api/v1/dlq", h.DLQ)
	mux.HandleFunc("/api/v1/dlq/{id}", h.DLQ)
	mux.HandleFunc("/healthz", h.Health)
	mux.Handle("/metrics", promhttp.Handler())
	return middleware.RequestID(mux)
}
