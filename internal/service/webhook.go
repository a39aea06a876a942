package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/notebookdir/internal/billing"
	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/metrics"
	"github.com/DukeRupert/notebookdir/internal/store"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

// Webhook outcomes, used as the metrics label.
const (
	outcomeApplied      = "applied"
	outcomeIgnored      = "ignored"
	outcomeDuplicate    = "duplicate"
	outcomeStale        = "stale"
	outcomeDeadLettered = "dead_lettered"
	outcomeError        = "error"
)

// errSupersededSubscription marks an event for a provider subscription the
// user has since replaced. It is acknowledged without touching the row.
var errSupersededSubscription = errors.New("event belongs to a replaced subscription")

// =============================================================================
// Interface Definition
// =============================================================================

// WebhookService synchronizes subscriptions from Stripe lifecycle events.
type WebhookService interface {
	// HandleWebhook verifies and applies one delivery. Replayed event ids and
	// events older than the stored state are acknowledged without changes.
	// Events whose subscriber cannot be resolved are dead-lettered.
	HandleWebhook(ctx context.Context, payload []byte, signature string) error

	// Reprocess applies an already verified event again. It is used by the
	// dead-letter worker and skips signature and duplicate checks.
	Reprocess(ctx context.Context, event stripe.Event) error
}

// =============================================================================
// Implementation
// =============================================================================

type webhookService struct {
	store    store.Store
	provider billing.Provider
	logger   *slog.Logger
	now      func() time.Time
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(st store.Store, provider billing.Provider, logger *slog.Logger) WebhookService {
	return &webhookService{
		store:    st,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *webhookService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	const op = "webhook.handle"

	event, err := s.provider.ConstructEvent(payload, signature)
	if err != nil {
		metrics.WebhookEvent("unknown", "invalid_signature")
		s.logger.Warn("webhook signature verification failed", "error", err)
		return err
	}
	if event.ID == "" {
		return domain.Invalid(op, "Event id is missing")
	}

	eventType := string(event.Type)
	logger := s.logger.With("event_id", event.ID, "event_type", eventType)

	processed, err := s.store.IsEventProcessed(ctx, event.ID)
	if err != nil {
		metrics.WebhookEvent(eventType, outcomeError)
		return err
	}
	if processed {
		logger.Info("duplicate webhook event acknowledged")
		metrics.WebhookEvent(eventType, outcomeDuplicate)
		return nil
	}

	outcome, err := s.apply(ctx, event)
	switch domain.ErrorCode(err) {
	case "":
	case domain.EUNRESOLVABLE:
		dlErr := s.store.EnqueueDeadLetter(ctx, store.DeadLetterEvent{
			EventID:   event.ID,
			EventType: eventType,
			Reason:    domain.ErrorMessage(err),
			Event:     json.RawMessage(payload),
		})
		if dlErr != nil {
			logger.Error("failed to dead-letter webhook event", "error", dlErr)
			metrics.WebhookEvent(eventType, outcomeError)
			return dlErr
		}
		logger.Error("webhook subscriber unresolvable, event dead-lettered",
			"reason", domain.ErrorMessage(err),
		)
		outcome = outcomeDeadLettered
	case domain.ECONFLICT:
		logger.Warn("stale webhook event ignored", "error", err)
		outcome = outcomeStale
	default:
		metrics.WebhookEvent(eventType, outcomeError)
		return err
	}

	if err := s.store.MarkEventProcessed(ctx, event.ID, eventType, s.eventTime(event)); err != nil {
		metrics.WebhookEvent(eventType, outcomeError)
		return err
	}

	logger.Info("webhook event processed", "outcome", outcome)
	metrics.WebhookEvent(eventType, outcome)
	return nil
}

func (s *webhookService) Reprocess(ctx context.Context, event stripe.Event) error {
	outcome, err := s.apply(ctx, event)
	if domain.ErrorCode(err) == domain.ECONFLICT {
		outcome, err = outcomeStale, nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("dead-lettered webhook event reprocessed",
		"event_id", event.ID,
		"event_type", event.Type,
		"outcome", outcome,
	)
	metrics.WebhookEvent(string(event.Type), "reconciled")
	return nil
}

func (s *webhookService) apply(ctx context.Context, event stripe.Event) (string, error) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return s.checkoutCompleted(ctx, event)
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		return s.subscriptionChanged(ctx, event)
	case stripe.EventTypeInvoicePaymentSucceeded, stripe.EventTypeInvoicePaymentFailed:
		return s.invoicePayment(ctx, event)
	}
	return outcomeIgnored, nil
}

// =============================================================================
// Event handlers
// =============================================================================

func (s *webhookService) checkoutCompleted(ctx context.Context, event stripe.Event) (string, error) {
	const op = "webhook.checkout_completed"

	var cs stripe.CheckoutSession
	if err := unmarshalObject(event, &cs); err != nil || cs.ID == "" {
		return "", domain.Invalid(op, "Checkout session object is missing or malformed")
	}

	customerID := customerIDOf(cs.Customer)
	subscriptionID := ""
	if cs.Subscription != nil {
		subscriptionID = cs.Subscription.ID
	}

	userID, err := s.resolveUser(ctx, op, cs.Metadata, cs.ClientReferenceID, subscriptionID, customerID)
	if err != nil {
		return "", err
	}

	planID := planFromMetadata(cs.Metadata)
	if planID == "" {
		s.logger.Warn("checkout session has no valid planId metadata",
			"session_id", cs.ID,
			"user_id", userID,
		)
	}

	at := s.eventTime(event)
	// A completed checkout starts the user's newest subscription, so it may
	// replace whatever provider subscription the row tracked before.
	sub, err := s.applyChange(ctx, true, domain.SubscriptionChange{
		UserID:               userID,
		EventID:              event.ID,
		EventAt:              at,
		PlanID:               planID,
		Status:               domain.SubscriptionStatusActive,
		PeriodStart:          at,
		PeriodEnd:            at.Add(domain.DefaultPeriod),
		CancelAtPeriodEnd:    domain.Bool(false),
		StripeCustomerID:     customerID,
		StripeSubscriptionID: subscriptionID,
	})
	if err != nil {
		return "", err
	}

	if err := s.store.UpdateProfileTier(ctx, userID, sub.EffectivePlan().ID, customerID); err != nil {
		return "", err
	}

	if cs.AmountTotal > 0 {
		err := s.store.RecordPayment(ctx, domain.Payment{
			ID:                   uuid.New(),
			UserID:               userID,
			ProviderObjectID:     cs.ID,
			StripeSubscriptionID: subscriptionID,
			AmountCents:          cs.AmountTotal,
			Currency:             domain.NormalizeCurrency(string(cs.Currency)),
			Status:               domain.PaymentStatusSucceeded,
			CreatedAt:            at,
		})
		if err != nil {
			return "", err
		}
	}

	return outcomeApplied, nil
}

func (s *webhookService) subscriptionChanged(ctx context.Context, event stripe.Event) (string, error) {
	const op = "webhook.subscription_changed"

	var ss stripe.Subscription
	if err := unmarshalObject(event, &ss); err != nil || ss.ID == "" {
		return "", domain.Invalid(op, "Subscription object is missing or malformed")
	}

	customerID := customerIDOf(ss.Customer)
	userID, err := s.resolveUser(ctx, op, ss.Metadata, "", ss.ID, customerID)
	if err != nil {
		return "", err
	}

	change := domain.SubscriptionChange{
		UserID:               userID,
		EventID:              event.ID,
		EventAt:              s.eventTime(event),
		StripeCustomerID:     customerID,
		StripeSubscriptionID: ss.ID,
	}
	if event.Type == stripe.EventTypeCustomerSubscriptionDeleted {
		change.PlanID = domain.PlanFree
		change.Status = domain.SubscriptionStatusCanceled
		change.CancelAtPeriodEnd = domain.Bool(false)
	} else {
		change.PlanID = s.planForSubscription(&ss)
		change.Status = domain.ParseSubscriptionStatus(string(ss.Status))
		change.PeriodStart = unixTime(ss.CurrentPeriodStart)
		change.PeriodEnd = unixTime(ss.CurrentPeriodEnd)
		change.CancelAtPeriodEnd = domain.Bool(ss.CancelAtPeriodEnd)
	}

	sub, err := s.applyChange(ctx, false, change)
	if errors.Is(err, errSupersededSubscription) {
		s.logger.Info("event for replaced subscription ignored",
			"event_id", event.ID,
			"user_id", userID,
			"stripe_subscription_id", ss.ID,
		)
		return outcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	if err := s.store.UpdateProfileTier(ctx, userID, sub.EffectivePlan().ID, customerID); err != nil {
		return "", err
	}
	return outcomeApplied, nil
}

func (s *webhookService) invoicePayment(ctx context.Context, event stripe.Event) (string, error) {
	const op = "webhook.invoice_payment"

	var inv stripe.Invoice
	if err := unmarshalObject(event, &inv); err != nil || inv.ID == "" {
		return "", domain.Invalid(op, "Invoice object is missing or malformed")
	}

	customerID := customerIDOf(inv.Customer)
	subscriptionID := ""
	if inv.Subscription != nil {
		subscriptionID = inv.Subscription.ID
	}

	userID, err := s.resolveUser(ctx, op, nil, "", subscriptionID, customerID)
	if err != nil {
		return "", err
	}

	at := s.eventTime(event)
	succeeded := event.Type == stripe.EventTypeInvoicePaymentSucceeded

	if subscriptionID != "" {
		change := domain.SubscriptionChange{
			UserID:               userID,
			EventID:              event.ID,
			EventAt:              at,
			PlanID:               s.planForInvoice(&inv),
			StripeCustomerID:     customerID,
			StripeSubscriptionID: subscriptionID,
		}
		if succeeded {
			change.Status = domain.SubscriptionStatusActive
			if inv.PeriodEnd > inv.PeriodStart {
				change.PeriodStart = unixTime(inv.PeriodStart)
				change.PeriodEnd = unixTime(inv.PeriodEnd)
			}
		} else {
			change.Status = domain.SubscriptionStatusPastDue
		}
		_, err := s.applyChange(ctx, false, change)
		switch {
		case errors.Is(err, errSupersededSubscription):
			// The payment still happened; only the subscription row is left alone.
			s.logger.Info("invoice for replaced subscription leaves subscription unchanged",
				"event_id", event.ID,
				"user_id", userID,
				"stripe_subscription_id", subscriptionID,
			)
		case err != nil:
			return "", err
		}
	}

	payment := domain.Payment{
		ID:                   uuid.New(),
		UserID:               userID,
		ProviderObjectID:     inv.ID,
		StripeSubscriptionID: subscriptionID,
		Currency:             domain.NormalizeCurrency(string(inv.Currency)),
		CreatedAt:            at,
	}
	if succeeded {
		payment.AmountCents = inv.AmountPaid
		payment.Status = domain.PaymentStatusSucceeded
	} else {
		payment.AmountCents = inv.AmountDue
		payment.Status = domain.PaymentStatusFailed
	}
	if err := s.store.RecordPayment(ctx, payment); err != nil {
		return "", err
	}

	return outcomeApplied, nil
}

// =============================================================================
// Helpers
// =============================================================================

// applyChange merges change into the stored subscription (or the free default
// for a new user) and writes it back. The store rejects the write if a newer
// event was applied concurrently. Unless replace is set, a change for a
// provider subscription other than the live one fails with
// errSupersededSubscription.
func (s *webhookService) applyChange(ctx context.Context, replace bool, change domain.SubscriptionChange) (*domain.Subscription, error) {
	const op = "webhook.apply_change"

	current, err := s.store.GetSubscription(ctx, change.UserID)
	if err != nil {
		if domain.ErrorCode(err) != domain.ENOTFOUND {
			return nil, err
		}
		current = domain.DefaultSubscription(change.UserID, s.now())
	}

	if change.IsStaleFor(current) {
		return nil, domain.StaleEvent(op, change.EventID)
	}
	if !replace && change.IsSupersededFor(current) {
		return nil, errSupersededSubscription
	}

	return s.store.UpsertSubscription(ctx, change.Apply(*current))
}

// resolveUser finds the user an event belongs to: metadata userId, then the
// fallback id (client_reference_id), then the stored subscription id, then
// the stored customer id.
func (s *webhookService) resolveUser(ctx context.Context, op string, metadata map[string]string, fallback, subscriptionID, customerID string) (string, error) {
	if id := metadata[billing.MetadataUserID]; id != "" {
		return id, nil
	}
	if fallback != "" {
		return fallback, nil
	}

	if subscriptionID != "" {
		sub, err := s.store.FindByStripeSubscription(ctx, subscriptionID)
		if err == nil {
			return sub.UserID, nil
		}
		if domain.ErrorCode(err) != domain.ENOTFOUND {
			return "", err
		}
	}

	if customerID != "" {
		userID, err := s.store.FindUserByStripeCustomer(ctx, customerID)
		if err == nil {
			return userID, nil
		}
		if domain.ErrorCode(err) != domain.ENOTFOUND {
			return "", err
		}
	}

	return "", domain.UnresolvableSubscriber(op, "no userId metadata and no stored subscription or customer "+
		"(subscription="+subscriptionID+", customer="+customerID+")")
}

func (s *webhookService) planForSubscription(ss *stripe.Subscription) domain.PlanID {
	if plan := planFromMetadata(ss.Metadata); plan != "" {
		return plan
	}
	if ss.Items != nil {
		for _, item := range ss.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			if plan, ok := s.provider.PlanForPriceID(item.Price.ID); ok {
				return plan
			}
		}
	}
	return ""
}

func (s *webhookService) planForInvoice(inv *stripe.Invoice) domain.PlanID {
	if inv.Lines == nil {
		return ""
	}
	for _, line := range inv.Lines.Data {
		if line == nil || line.Price == nil {
			continue
		}
		if plan, ok := s.provider.PlanForPriceID(line.Price.ID); ok {
			return plan
		}
	}
	return ""
}

func (s *webhookService) eventTime(event stripe.Event) time.Time {
	if event.Created == 0 {
		return s.now().UTC()
	}
	return time.Unix(event.Created, 0).UTC()
}

func unmarshalObject(event stripe.Event, v any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return domain.Invalid("webhook.unmarshal", "event has no data object")
	}
	return json.Unmarshal(event.Data.Raw, v)
}

// planFromMetadata returns the plan named in metadata if it is in the catalog.
func planFromMetadata(metadata map[string]string) domain.PlanID {
	plan, err := domain.GetPlan(metadata[billing.MetadataPlanID])
	if err != nil {
		return ""
	}
	return plan.ID
}

func customerIDOf(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
