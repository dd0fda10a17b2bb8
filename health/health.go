// Package health exposes the database health of the process over HTTP.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/invdash/backend/logging"
	"github.com/invdash/backend/postgres"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"

	DatabaseUp   = "up"
	DatabaseDown = "down"

	// DefaultCheckTimeout bounds a single /health database probe.
	DefaultCheckTimeout = 3 * time.Second
)

// Checker reports database connectivity. *postgres.Client satisfies it.
type Checker interface {
	TestConnection(ctx context.Context) bool
	Stats() (*postgres.PoolStats, error)
}

// Response is the body of GET /health.
type Response struct {
	Status   string              `json:"status"`
	Database string              `json:"database"`
	Pool     *postgres.PoolStats `json:"pool,omitempty"`
}

// Handler serves the health endpoints.
type Handler struct {
	checker      Checker
	logger       logging.Logger
	checkTimeout time.Duration
}

// NewHandler creates a Handler. A nil logger discards output.
func NewHandler(checker Checker, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}

	return &Handler{
		checker:      checker,
		logger:       logger.WithField("component", "health"),
		checkTimeout: DefaultCheckTimeout,
	}
}

// Router returns the HTTP routes: GET /health and the /ping heartbeat.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.logger))
	r.Use(middleware.Heartbeat("/ping"))

	r.Get("/health", h.Health)

	return r
}

// Health runs the connectivity probe and reports 200 when the database
// answers, 503 otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	if !h.checker.TestConnection(ctx) {
		h.logger.Warn("Health check failed: database unreachable")
		h.writeJSON(w, http.StatusServiceUnavailable, Response{Status: StatusDegraded, Database: DatabaseDown})

		return
	}

	resp := Response{Status: StatusOK, Database: DatabaseUp}

	if stats, err := h.checker.Stats(); err == nil {
		resp.Pool = stats
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Errorf("Failed to write health response: %v", err)
	}
}
