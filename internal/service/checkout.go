package service

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/DukeRupert/notebookdir/internal/billing"
	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/metrics"
	"github.com/DukeRupert/notebookdir/internal/store"
)

// CheckoutService creates hosted Stripe pages. It writes no local state:
// subscriptions are recorded only when the webhook confirms them.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, params CreateCheckoutParams) (*billing.Session, error)
	CreatePortalSession(ctx context.Context, userID, returnURL string) (*billing.Session, error)
}

// CreateCheckoutParams contains the fields for starting a checkout.
type CreateCheckoutParams struct {
	UserID     string
	PlanID     string
	SuccessURL string
	CancelURL  string
}

type checkoutService struct {
	store    store.SubscriptionStore
	provider billing.Provider
	logger   *slog.Logger
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(st store.SubscriptionStore, provider billing.Provider, logger *slog.Logger) CheckoutService {
	return &checkoutService{
		store:    st,
		provider: provider,
		logger:   logger,
	}
}

func (s *checkoutService) CreateCheckoutSession(ctx context.Context, params CreateCheckoutParams) (*billing.Session, error) {
	const op = "checkout.create"

	userID, err := requireUserID(op, params.UserID)
	if err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if !isRedirectURL(params.SuccessURL) {
		fields["successUrl"] = "Must be an absolute http(s) URL"
	}
	if !isRedirectURL(params.CancelURL) {
		fields["cancelUrl"] = "Must be an absolute http(s) URL"
	}
	if len(fields) > 0 {
		return nil, &domain.ValidationError{Op: op, Fields: fields}
	}

	planID := strings.ToLower(strings.TrimSpace(params.PlanID))
	plan, err := domain.GetPlan(planID)
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues("unknown", "invalid_plan").Inc()
		return nil, err
	}
	if plan.IsFree() {
		metrics.CheckoutSessionsTotal.WithLabelValues(planID, "invalid_plan").Inc()
		return nil, domain.InvalidPlan(op, planID)
	}
	priceID, ok := s.provider.PriceForPlan(plan.ID)
	if !ok {
		s.logger.Error("no stripe price configured for plan", "plan_id", plan.ID)
		metrics.CheckoutSessionsTotal.WithLabelValues(planID, "invalid_plan").Inc()
		return nil, domain.InvalidPlan(op, planID)
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, billing.CheckoutParams{
		UserID:     userID,
		PlanID:     plan.ID,
		PriceID:    priceID,
		CustomerID: s.existingCustomer(ctx, userID),
		SuccessURL: params.SuccessURL,
		CancelURL:  params.CancelURL,
	})
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues(planID, "provider_error").Inc()
		return nil, err
	}

	metrics.CheckoutSessionsTotal.WithLabelValues(planID, "created").Inc()
	s.logger.Info("checkout session created",
		"user_id", userID,
		"plan_id", plan.ID,
		"session_id", sess.ID,
	)
	return sess, nil
}

// existingCustomer returns the user's stored Stripe customer id, if any.
// Lookup failures only cost the customer reuse.
func (s *checkoutService) existingCustomer(ctx context.Context, userID string) string {
	sub, err := s.store.GetSubscription(ctx, userID)
	if err != nil {
		if domain.ErrorCode(err) != domain.ENOTFOUND {
			s.logger.Warn("customer lookup failed, starting checkout without customer",
				"user_id", userID,
				"error", err,
			)
		}
		return ""
	}
	return sub.StripeCustomerID
}

func (s *checkoutService) CreatePortalSession(ctx context.Context, userID, returnURL string) (*billing.Session, error) {
	const op = "checkout.create_portal"

	userID, err := requireUserID(op, userID)
	if err != nil {
		return nil, err
	}
	if !isRedirectURL(returnURL) {
		return nil, domain.NewValidationError(op, "returnUrl", "Must be an absolute http(s) URL")
	}

	sub, err := s.store.GetSubscription(ctx, userID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return nil, domain.NotFound(op, "billing customer", userID)
		}
		return nil, err
	}
	if sub.StripeCustomerID == "" {
		return nil, domain.NotFound(op, "billing customer", userID)
	}

	return s.provider.CreatePortalSession(ctx, sub.StripeCustomerID, returnURL)
}

func isRedirectURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
