// Package billing provides the Stripe integration used for checkout,
// subscription management and webhook verification.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/metrics"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// DefaultTimeout bounds every call to the Stripe API.
const DefaultTimeout = 10 * time.Second

// Metadata keys attached to checkout sessions and subscriptions so webhook
// events can be correlated back to a user without a local mapping.
const (
	MetadataUserID = "userId"
	MetadataPlanID = "planId"
)

// Provider defines the payment provider operations the services depend on.
type Provider interface {
	// CreateCheckoutSession creates a hosted checkout session for a subscription.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*Session, error)

	// CreatePortalSession creates a customer portal session.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*Session, error)

	// SetCancelAtPeriodEnd sets or clears cancel_at_period_end on a subscription.
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error

	// ConstructEvent verifies the webhook signature and parses the event.
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)

	// PriceForPlan returns the Stripe price configured for a plan.
	PriceForPlan(plan domain.PlanID) (string, bool)

	// PlanForPriceID maps a Stripe price back to a plan.
	PlanForPriceID(priceID string) (domain.PlanID, bool)
}

// CheckoutParams are the inputs of a checkout session.
type CheckoutParams struct {
	UserID     string
	PlanID     domain.PlanID
	PriceID    string
	CustomerID string // optional, reused when the user already has one
	SuccessURL string
	CancelURL  string
}

// Session is a hosted provider page the user is redirected to.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// PriceConfig holds the Stripe price IDs for each paid plan.
type PriceConfig struct {
	Standard     string
	Professional string
	Enterprise   string
}

func (p PriceConfig) byPlan() map[domain.PlanID]string {
	m := make(map[domain.PlanID]string)
	if p.Standard != "" {
		m[domain.PlanStandard] = p.Standard
	}
	if p.Professional != "" {
		m[domain.PlanProfessional] = p.Professional
	}
	if p.Enterprise != "" {
		m[domain.PlanEnterprise] = p.Enterprise
	}
	return m
}

// Config configures the Stripe provider.
type Config struct {
	SecretKey     string
	WebhookSecret string
	Prices        PriceConfig
	Timeout       time.Duration

	// APIURL overrides the Stripe API base URL (tests).
	APIURL string
}

// stripeProvider is the concrete implementation of Provider.
type stripeProvider struct {
	api           *client.API
	webhookSecret string
	timeout       time.Duration
	planToPrice   map[domain.PlanID]string
	priceToPlan   map[string]domain.PlanID
	logger        *slog.Logger
}

// NewStripeProvider creates a Stripe-backed Provider with its own client.
// No package-level stripe.Key is set.
func NewStripeProvider(cfg Config, logger *slog.Logger) Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	planToPrice := cfg.Prices.byPlan()
	priceToPlan := make(map[string]domain.PlanID, len(planToPrice))
	for plan, price := range planToPrice {
		priceToPlan[price] = plan
	}

	return &stripeProvider{
		api: client.New(cfg.SecretKey, &stripe.Backends{
			API:     backend,
			Connect: backend,
			Uploads: backend,
		}),
		webhookSecret: cfg.WebhookSecret,
		timeout:       timeout,
		planToPrice:   planToPrice,
		priceToPlan:   priceToPlan,
		logger:        logger,
	}
}

func (p *stripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutParams) (*Session, error) {
	const op = "billing.create_checkout_session"

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	metadata := map[string]string{
		MetadataUserID: in.UserID,
		MetadataPlanID: string(in.PlanID),
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:          stripe.String(in.SuccessURL),
		CancelURL:           stripe.String(in.CancelURL),
		ClientReferenceID:   stripe.String(in.UserID),
		AllowPromotionCodes: stripe.Bool(true),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	}
	params.Context = ctx

	start := time.Now()
	sess, err := p.api.CheckoutSessions.New(params)
	metrics.ProviderCall("checkout_session", time.Since(start))
	if err != nil {
		p.logProviderError(op, err)
		return nil, domain.ProviderUnavailable(err, op)
	}

	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

func (p *stripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*Session, error) {
	const op = "billing.create_portal_session"

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	start := time.Now()
	sess, err := p.api.BillingPortalSessions.New(params)
	metrics.ProviderCall("portal_session", time.Since(start))
	if err != nil {
		p.logProviderError(op, err)
		return nil, domain.ProviderUnavailable(err, op)
	}

	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

func (p *stripeProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancelAtEnd bool) error {
	const op = "billing.set_cancel_at_period_end"

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancelAtEnd),
	}
	params.Context = ctx

	start := time.Now()
	_, err := p.api.Subscriptions.Update(subscriptionID, params)
	metrics.ProviderCall("subscription_update", time.Since(start))
	if err != nil {
		p.logProviderError(op, err)
		return domain.ProviderUnavailable(err, op)
	}
	return nil
}

func (p *stripeProvider) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	const op = "billing.construct_event"

	if p.webhookSecret == "" {
		return stripe.Event{}, domain.InvalidSignature(errors.New("webhook secret not configured"), op)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return stripe.Event{}, domain.InvalidSignature(err, op)
	}
	return event, nil
}

func (p *stripeProvider) PriceForPlan(plan domain.PlanID) (string, bool) {
	price, ok := p.planToPrice[plan]
	return price, ok
}

func (p *stripeProvider) PlanForPriceID(priceID string) (domain.PlanID, bool) {
	plan, ok := p.priceToPlan[priceID]
	return plan, ok
}

func (p *stripeProvider) logProviderError(op string, err error) {
	attrs := []any{"op", op, "error", err}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		attrs = append(attrs,
			"stripe_code", string(stripeErr.Code),
			"stripe_type", string(stripeErr.Type),
			"http_status", stripeErr.HTTPStatusCode,
			"request_id", stripeErr.RequestID,
		)
	}
	p.logger.Error("stripe request failed", attrs...)
}

// =============================================================================
// Disabled provider
// =============================================================================

var errNotConfigured = errors.New("stripe is not configured")

// disabledProvider is injected when no Stripe key is configured. Every call
// fails as ProviderUnavailable and every webhook fails verification.
type disabledProvider struct{}

// NewDisabledProvider returns a Provider that rejects all calls.
func NewDisabledProvider() Provider {
	return disabledProvider{}
}

func (disabledProvider) CreateCheckoutSession(context.Context, CheckoutParams) (*Session, error) {
	return nil, domain.ProviderUnavailable(errNotConfigured, "billing.create_checkout_session")
}

func (disabledProvider) CreatePortalSession(context.Context, string, string) (*Session, error) {
	return nil, domain.ProviderUnavailable(errNotConfigured, "billing.create_portal_session")
}

func (disabledProvider) SetCancelAtPeriodEnd(context.Context, string, bool) error {
	return domain.ProviderUnavailable(errNotConfigured, "billing.set_cancel_at_period_end")
}

func (disabledProvider) ConstructEvent([]byte, string) (stripe.Event, error) {
	return stripe.Event{}, domain.InvalidSignature(errNotConfigured, "billing.construct_event")
}

func (disabledProvider) PriceForPlan(domain.PlanID) (string, bool) {
	return "", false
}

func (disabledProvider) PlanForPriceID(string) (domain.PlanID, bool) {
	return "", false
}

// String describes the provider for startup logs.
func (p *stripeProvider) String() string {
	return fmt.Sprintf("stripe (timeout %s, %d prices)", p.timeout, len(p.planToPrice))
}
