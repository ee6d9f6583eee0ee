package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/onnwee/chat-tender/backend/capture"
)

var startedAt = time.Now().UTC()

// Handlers carries the dependencies the HTTP endpoints read from.
type Handlers struct {
	db     *sql.DB
	runner *capture.Runner
}

// HandleHealthz responds to liveness probes. With a database configured it
// also checks connectivity; without one, running is healthy.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes with named checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.db == nil {
				return nil // database is optional
			}
			return h.db.PingContext(r.Context())
		}},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports uptime and a snapshot of running capture sessions.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var sessions []capture.SessionStatus
	if h.runner != nil {
		sessions = h.runner.Active()
	}
	if sessions == nil {
		sessions = []capture.SessionStatus{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"uptime_seconds":  int(time.Since(startedAt).Seconds()),
		"active_sessions": sessions,
	})
}
