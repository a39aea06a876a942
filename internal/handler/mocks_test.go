package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/notebookdir/internal/billing"
	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/service"
	"github.com/DukeRupert/notebookdir/internal/store"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func passThrough(next http.Handler) http.Handler { return next }

type mockCheckout struct {
	CreateCheckoutSessionFn func(ctx context.Context, params service.CreateCheckoutParams) (*billing.Session, error)
	CreatePortalSessionFn   func(ctx context.Context, userID, returnURL string) (*billing.Session, error)
}

func (m *mockCheckout) CreateCheckoutSession(ctx context.Context, params service.CreateCheckoutParams) (*billing.Session, error) {
	return m.CreateCheckoutSessionFn(ctx, params)
}

func (m *mockCheckout) CreatePortalSession(ctx context.Context, userID, returnURL string) (*billing.Session, error) {
	return m.CreatePortalSessionFn(ctx, userID, returnURL)
}

type mockEntitlements struct {
	GetSubscriptionFn   func(ctx context.Context, userID string) (*domain.Subscription, error)
	CancelAtPeriodEndFn func(ctx context.Context, userID string) (*domain.Subscription, error)
	ReactivateFn        func(ctx context.Context, userID string) (*domain.Subscription, error)
	HasPremiumAccessFn  func(ctx context.Context, userID string) (bool, error)
	ListPaymentsFn      func(ctx context.Context, userID string, limit int) ([]domain.Payment, error)
}

func (m *mockEntitlements) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	return m.GetSubscriptionFn(ctx, userID)
}

func (m *mockEntitlements) CancelAtPeriodEnd(ctx context.Context, userID string) (*domain.Subscription, error) {
	return m.CancelAtPeriodEndFn(ctx, userID)
}

func (m *mockEntitlements) Reactivate(ctx context.Context, userID string) (*domain.Subscription, error) {
	return m.ReactivateFn(ctx, userID)
}

func (m *mockEntitlements) HasPremiumAccess(ctx context.Context, userID string) (bool, error) {
	return m.HasPremiumAccessFn(ctx, userID)
}

func (m *mockEntitlements) ListPayments(ctx context.Context, userID string, limit int) ([]domain.Payment, error) {
	return m.ListPaymentsFn(ctx, userID, limit)
}

type mockUsage struct {
	TrackActivityFn    func(ctx context.Context, params service.TrackActivityParams) bool
	CanPerformActionFn func(ctx context.Context, userID string, action domain.Action) (bool, error)
	GetUsageFn         func(ctx context.Context, userID string) (*domain.UsageReport, error)
}

func (m *mockUsage) TrackActivity(ctx context.Context, params service.TrackActivityParams) bool {
	return m.TrackActivityFn(ctx, params)
}

func (m *mockUsage) CanPerformAction(ctx context.Context, userID string, action domain.Action) (bool, error) {
	return m.CanPerformActionFn(ctx, userID, action)
}

func (m *mockUsage) GetUsage(ctx context.Context, userID string) (*domain.UsageReport, error) {
	return m.GetUsageFn(ctx, userID)
}

type mockWebhooks struct {
	HandleWebhookFn func(ctx context.Context, payload []byte, signature string) error
}

func (m *mockWebhooks) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	return m.HandleWebhookFn(ctx, payload, signature)
}

func (m *mockWebhooks) Reprocess(context.Context, stripe.Event) error {
	return nil
}

type mockAudio struct {
	DownloadURLFn func(ctx context.Context, params service.AudioDownloadParams) (string, error)
}

func (m *mockAudio) DownloadURL(ctx context.Context, params service.AudioDownloadParams) (string, error) {
	return m.DownloadURLFn(ctx, params)
}

type mockDeadLetters struct {
	ListDeadLettersFn   func(ctx context.Context, status string, limit int) ([]domain.DeadLetter, error)
	RequeueDeadLetterFn func(ctx context.Context, id uuid.UUID) error
}

func (m *mockDeadLetters) EnqueueDeadLetter(context.Context, store.DeadLetterEvent) error {
	return nil
}

func (m *mockDeadLetters) ListDeadLetters(ctx context.Context, status string, limit int) ([]domain.DeadLetter, error) {
	return m.ListDeadLettersFn(ctx, status, limit)
}

func (m *mockDeadLetters) RequeueDeadLetter(ctx context.Context, id uuid.UUID) error {
	return m.RequeueDeadLetterFn(ctx, id)
}
