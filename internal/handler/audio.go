package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/notebookdir/internal/middleware"
	"github.com/DukeRupert/notebookdir/internal/service"
)

// AudioHandler serves download-gated audio overviews.
type AudioHandler struct {
	audio  service.AudioService
	logger *slog.Logger
}

// NewAudioHandler creates a new AudioHandler.
func NewAudioHandler(audio service.AudioService, logger *slog.Logger) *AudioHandler {
	return &AudioHandler{
		audio:  audio,
		logger: logger,
	}
}

// RegisterRoutes registers audio routes.
func (h *AudioHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("GET /api/audio/{key...}", protect(http.HandlerFunc(h.Download)))
}

// Download redirects to a short-lived URL for the requested audio file.
func (h *AudioHandler) Download(w http.ResponseWriter, r *http.Request) {
	url, err := h.audio.DownloadURL(r.Context(), service.AudioDownloadParams{
		UserID:    r.URL.Query().Get("userId"),
		Path:      r.PathValue("key"),
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, url, http.StatusFound)
}
