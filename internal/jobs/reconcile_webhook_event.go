// Package jobs contains the background job handlers run by the worker.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/service"
	"github.com/DukeRupert/notebookdir/internal/store"
	"github.com/DukeRupert/notebookdir/internal/worker"
	"github.com/stripe/stripe-go/v79"
)

// ReconcileWebhookEventHandler retries webhook events whose subscriber could
// not be resolved when they were delivered. Each attempt re-runs resolution;
// once the job's attempts are exhausted it stays failed for manual review.
type ReconcileWebhookEventHandler struct {
	webhooks service.WebhookService
	logger   *slog.Logger
}

// NewReconcileWebhookEventHandler creates a new handler for dead-lettered events.
func NewReconcileWebhookEventHandler(webhooks service.WebhookService, logger *slog.Logger) *ReconcileWebhookEventHandler {
	return &ReconcileWebhookEventHandler{
		webhooks: webhooks,
		logger:   logger,
	}
}

// Type returns the job type identifier.
func (h *ReconcileWebhookEventHandler) Type() string {
	return worker.JobTypeReconcileWebhookEvent
}

// Handle reprocesses one dead-lettered event.
func (h *ReconcileWebhookEventHandler) Handle(ctx context.Context, payload []byte) error {
	var dl store.DeadLetterEvent
	if err := json.Unmarshal(payload, &dl); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}

	var event stripe.Event
	if err := json.Unmarshal(dl.Event, &event); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid event %s: %w", dl.EventID, err))
	}

	h.logger.Info("Reconciling webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
		"reason", dl.Reason,
	)

	err := h.webhooks.Reprocess(ctx, event)
	switch domain.ErrorCode(err) {
	case "":
		return nil
	case domain.EINVALID, domain.EPLAN:
		return worker.NewPermanentError(err)
	case domain.EUNRESOLVABLE:
		return fmt.Errorf("event %s still unresolvable: %w", event.ID, err)
	}
	return fmt.Errorf("reprocess event %s: %w", event.ID, err)
}
