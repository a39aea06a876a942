package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/service"
)

// maxWebhookBytes bounds a Stripe webhook body.
const maxWebhookBytes = 65536

// WebhookHandler receives Stripe webhook deliveries.
type WebhookHandler struct {
	webhooks service.WebhookService
	logger   *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhooks service.WebhookService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks,
		logger:   logger,
	}
}

// RegisterRoutes registers webhook routes. They are public: Stripe calls them
// directly and authenticates with the signature header.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook verifies and applies one Stripe event.
//
// Responses: 200 {received: true} once the event is applied, recognized as a
// duplicate or dead-lettered; 400 for bad signatures or malformed events
// (Stripe will not retry those); 500 for anything else so Stripe retries.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		ErrorResponse(w, r, h.logger, domain.Invalid("webhook.read", "Unable to read request body"))
		return
	}

	err = h.webhooks.HandleWebhook(r.Context(), body, r.Header.Get("Stripe-Signature"))
	switch domain.ErrorCode(err) {
	case "":
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case domain.ESIGNATURE, domain.EINVALID:
		ErrorResponse(w, r, h.logger, err)
	default:
		logError(h.logger, r, err, domain.ErrorCode(err), domain.ErrorOp(err), http.StatusInternalServerError)
		writeJSON(w, http.StatusInternalServerError, ErrorBody{
			Error:     "Webhook processing failed",
			Code:      domain.ErrorCode(err),
			Retryable: true,
		})
	}
}
