package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger checks a dependency is reachable. *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	db     Pinger
	mode   string
	logger *slog.Logger
}

// NewHealthHandler creates a new HealthHandler. db is nil in demo mode.
func NewHealthHandler(db Pinger, mode string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		mode:   mode,
		logger: logger,
	}
}

// RegisterRoutes registers the health route.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
}

// Health reports 200 when the service and its database are reachable.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok", "mode": h.mode}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Error("health check: database unreachable", "error", err)
			body["status"] = "unavailable"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}

	writeJSON(w, http.StatusOK, body)
}
