package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/store"
	"github.com/google/uuid"
)

// AdminHandler exposes dead-lettered webhook events for manual
// reconciliation.
type AdminHandler struct {
	deadLetters store.DeadLetterStore
	logger      *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(deadLetters store.DeadLetterStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		deadLetters: deadLetters,
		logger:      logger,
	}
}

// RegisterRoutes registers admin routes behind requireAdmin.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	mux.Handle("GET /api/admin/dead-letters", requireAdmin(http.HandlerFunc(h.ListDeadLetters)))
	mux.Handle("POST /api/admin/dead-letters/{id}/retry", requireAdmin(http.HandlerFunc(h.RetryDeadLetter)))
}

var deadLetterStatuses = map[string]bool{
	"pending":    true,
	"processing": true,
	"completed":  true,
	"failed":     true,
}

// ListDeadLetters lists dead letters by status (default failed).
func (h *AdminHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	const op = "admin.list_dead_letters"

	status := r.URL.Query().Get("status")
	if status == "" {
		status = "failed"
	}
	if !deadLetterStatuses[status] {
		ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "status", "Unknown status"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	items, err := h.deadLetters.ListDeadLetters(r.Context(), status, limit)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": items})
}

// RetryDeadLetter requeues a failed dead letter for another round of
// attempts.
func (h *AdminHandler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	const op = "admin.retry_dead_letter"

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Invalid dead letter id"))
		return
	}

	if err := h.deadLetters.RequeueDeadLetter(r.Context(), id); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("dead letter requeued", "id", id)
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": "pending"})
}
