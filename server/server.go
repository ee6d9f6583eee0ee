// Package server exposes the HTTP surface: health and readiness probes, a
// live capture status endpoint, and Prometheus metrics. It injects
// correlation IDs into request contexts for consistent logging and applies
// permissive CORS for development.
package server

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/chat-tender/backend/capture"
)

// NewMux returns the HTTP handler with all routes. db may be nil when the
// service runs without Postgres; runner may be nil before sessions start.
func NewMux(db *sql.DB, runner *capture.Runner) http.Handler {
	handlers := &Handlers{db: db, runner: runner}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)
	mux.HandleFunc("/status", handlers.HandleStatus)

	return withCORS(withCorrelation(mux))
}
