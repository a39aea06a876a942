package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/notebookdir/internal/billing"
	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/store"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// memStore
// =============================================================================

// memStore is an in-memory store.Store. Its upsert applies the same
// last_event_at guard as the PostgreSQL query.
type memStore struct {
	mu          sync.Mutex
	subs        map[string]domain.Subscription
	profiles    map[string]domain.PlanID
	customers   map[string]string
	usage       []domain.UsageEvent
	processed   map[string]bool
	payments    map[string]domain.Payment
	deadLetters []store.DeadLetterEvent
	upserts     int

	// Error injection
	getErr    error
	upsertErr error
	countErr  error
	recordErr error
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		subs:      make(map[string]domain.Subscription),
		profiles:  make(map[string]domain.PlanID),
		customers: make(map[string]string),
		processed: make(map[string]bool),
		payments:  make(map[string]domain.Payment),
	}
}

func (m *memStore) GetSubscription(_ context.Context, userID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	sub, ok := m.subs[userID]
	if !ok {
		return nil, domain.NotFound("mem.get_subscription", "subscription", userID)
	}
	return &sub, nil
}

func (m *memStore) FindByStripeSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.StripeSubscriptionID == id {
			s := sub
			return &s, nil
		}
	}
	return nil, domain.NotFound("mem.find_by_stripe_subscription", "subscription", id)
}

func (m *memStore) FindUserByStripeCustomer(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.StripeCustomerID == id {
			return sub.UserID, nil
		}
	}
	if userID, ok := m.customers[id]; ok {
		return userID, nil
	}
	return "", domain.NotFound("mem.find_user_by_stripe_customer", "customer", id)
}

func (m *memStore) UpsertSubscription(_ context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	if cur, ok := m.subs[sub.UserID]; ok && cur.LastEventAt != nil && sub.LastEventAt != nil &&
		sub.LastEventAt.Before(*cur.LastEventAt) {
		return nil, domain.StaleEvent("mem.upsert_subscription", sub.LastEventID)
	}
	sub.Source = domain.SourceStore
	m.subs[sub.UserID] = sub
	m.upserts++
	return &sub, nil
}

func (m *memStore) SetCancelAtPeriodEnd(_ context.Context, userID string, cancel bool) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[userID]
	if !ok {
		return nil, domain.NotFound("mem.set_cancel_at_period_end", "subscription", userID)
	}
	sub.CancelAtPeriodEnd = cancel
	m.subs[userID] = sub
	return &sub, nil
}

func (m *memStore) UpdateProfileTier(_ context.Context, userID string, plan domain.PlanID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[userID] = plan
	if customerID != "" {
		m.customers[customerID] = userID
	}
	return nil
}

func (m *memStore) RecordUsage(_ context.Context, event domain.UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.usage = append(m.usage, event)
	return nil
}

func (m *memStore) CountUsage(_ context.Context, userID string, action domain.Action, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	var n int64
	for _, e := range m.usage {
		if e.UserID == userID && e.Action == action && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountUsageByAction(_ context.Context, userID string, since time.Time) (map[domain.Action]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return nil, m.countErr
	}
	counts := make(map[domain.Action]int64)
	for _, e := range m.usage {
		if e.UserID == userID && !e.CreatedAt.Before(since) {
			counts[e.Action]++
		}
	}
	return counts, nil
}

func (m *memStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[eventID], nil
}

func (m *memStore) MarkEventProcessed(_ context.Context, eventID, _ string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[eventID] = true
	return nil
}

func (m *memStore) RecordPayment(_ context.Context, p domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ProviderObjectID] = p
	return nil
}

func (m *memStore) ListPayments(_ context.Context, userID string, limit int) ([]domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Payment
	for _, p := range m.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) EnqueueDeadLetter(_ context.Context, dl store.DeadLetterEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters = append(m.deadLetters, dl)
	return nil
}

func (m *memStore) ListDeadLetters(context.Context, string, int) ([]domain.DeadLetter, error) {
	return nil, nil
}

func (m *memStore) RequeueDeadLetter(context.Context, uuid.UUID) error {
	return nil
}

func (m *memStore) subscription(userID string) (domain.Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[userID]
	return sub, ok
}

// =============================================================================
// mockProvider
// =============================================================================

type mockProvider struct {
	CreateCheckoutSessionFn func(ctx context.Context, params billing.CheckoutParams) (*billing.Session, error)
	CreatePortalSessionFn   func(ctx context.Context, customerID, returnURL string) (*billing.Session, error)
	SetCancelAtPeriodEndFn  func(ctx context.Context, subscriptionID string, cancel bool) error
	prices                  map[domain.PlanID]string
}

var _ billing.Provider = (*mockProvider)(nil)

func newMockProvider() *mockProvider {
	return &mockProvider{
		prices: map[domain.PlanID]string{
			domain.PlanStandard:     "price_std",
			domain.PlanProfessional: "price_pro",
			domain.PlanEnterprise:   "price_ent",
		},
	}
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (*billing.Session, error) {
	if m.CreateCheckoutSessionFn != nil {
		return m.CreateCheckoutSessionFn(ctx, params)
	}
	return &billing.Session{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

func (m *mockProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*billing.Session, error) {
	if m.CreatePortalSessionFn != nil {
		return m.CreatePortalSessionFn(ctx, customerID, returnURL)
	}
	return &billing.Session{ID: "bps_1", URL: "https://billing.stripe.com/p/session/bps_1"}, nil
}

func (m *mockProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error {
	if m.SetCancelAtPeriodEndFn != nil {
		return m.SetCancelAtPeriodEndFn(ctx, subscriptionID, cancel)
	}
	return nil
}

func (m *mockProvider) ConstructEvent([]byte, string) (stripe.Event, error) {
	return stripe.Event{}, domain.InvalidSignature(nil, "mock.construct_event")
}

func (m *mockProvider) PriceForPlan(plan domain.PlanID) (string, bool) {
	p, ok := m.prices[plan]
	return p, ok
}

func (m *mockProvider) PlanForPriceID(priceID string) (domain.PlanID, bool) {
	for plan, p := range m.prices {
		if p == priceID {
			return plan, true
		}
	}
	return "", false
}
