package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DukeRupert/notebookdir/internal/billing"
	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const testWebhookSecret = "whsec_service_test"

func newTestWebhooks(st *memStore) *webhookService {
	p := billing.NewStripeProvider(billing.Config{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Prices: billing.PriceConfig{
			Standard:     "price_std",
			Professional: "price_pro",
			Enterprise:   "price_ent",
		},
	}, testLogger())
	svc := NewWebhookService(st, p, testLogger()).(*webhookService)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func eventPayload(t *testing.T, id, eventType string, created time.Time, object map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": created.Unix(),
		"data":    map[string]any{"object": object},
	})
	require.NoError(t, err)
	return b
}

func sign(payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  testWebhookSecret,
	}).Header
}

func checkoutObject(userID, planID string) map[string]any {
	return map[string]any{
		"id":                  "cs_test_1",
		"object":              "checkout.session",
		"mode":                "subscription",
		"client_reference_id": userID,
		"customer":            "cus_1",
		"subscription":        "sub_1",
		"amount_total":        1999,
		"currency":            "usd",
		"metadata":            map[string]any{"userId": userID, "planId": planID},
	}
}

func subscriptionObject(status string, metadata map[string]any, priceID string) map[string]any {
	return map[string]any{
		"id":                   "sub_1",
		"object":               "subscription",
		"status":               status,
		"customer":             "cus_1",
		"cancel_at_period_end": false,
		"current_period_start": fixedNow.Unix(),
		"current_period_end":   fixedNow.Add(30 * 24 * time.Hour).Unix(),
		"metadata":             metadata,
		"items": map[string]any{
			"object": "list",
			"data": []any{
				map[string]any{
					"id":     "si_1",
					"object": "subscription_item",
					"price":  map[string]any{"id": priceID, "object": "price"},
				},
			},
		},
	}
}

func deliver(t *testing.T, svc *webhookService, payload []byte) error {
	t.Helper()
	return svc.HandleWebhook(context.Background(), payload, sign(payload))
}

func TestWebhook_CheckoutCompleted(t *testing.T) {
	st := newMemStore()
	svc := newTestWebhooks(st)

	payload := eventPayload(t, "evt_1", "checkout.session.completed", fixedNow, checkoutObject("u2", "professional"))
	require.NoError(t, deliver(t, svc, payload))

	sub, ok := st.subscription("u2")
	require.True(t, ok)
	assert.Equal(t, domain.PlanProfessional, sub.PlanID)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "cus_1", sub.StripeCustomerID)
	assert.Equal(t, "sub_1", sub.StripeSubscriptionID)
	assert.Equal(t, "evt_1", sub.LastEventID)

	assert.Equal(t, domain.PlanProfessional, st.profiles["u2"])
	assert.Equal(t, int64(1999), st.payments["cs_test_1"].AmountCents)
	assert.Equal(t, "USD", st.payments["cs_test_1"].Currency)
	assert.True(t, st.processed["evt_1"])

	ent := newTestEntitlements(st, newMockProvider())
	got, err := ent.GetSubscription(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanProfessional, got.PlanID)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
}

func TestWebhook_ReplayIsIdempotent(t *testing.T) {
	st := newMemStore()
	svc := newTestWebhooks(st)

	payload := eventPayload(t, "evt_1", "checkout.session.completed", fixedNow, checkoutObject("u1", "standard"))
	require.NoError(t, deliver(t, svc, payload))
	first, _ := st.subscription("u1")

	require.NoError(t, deliver(t, svc, payload))
	second, _ := st.subscription("u1")

	assert.Equal(t, 1, st.upserts)
	assert.Equal(t, first, second)
}

func TestWebhook_OutOfOrderEventDoesNotRegress(t *testing.T) {
	st := newMemStore()
	svc := newTestWebhooks(st)

	meta := map[string]any{"userId": "u1", "planId": "standard"}
	newer := eventPayload(t, "evt_2", "customer.subscription.updated", fixedNow.Add(time.Minute), subscriptionObject("active", meta, "price_std"))
	older := eventPayload(t, "evt_1", "customer.subscription.updated", fixedNow, subscriptionObject("past_due", meta, "price_std"))

	require.NoError(t, deliver(t, svc, newer))
	require.NoError(t, deliver(t, svc, older))

	sub, _ := st.subscription("u1")
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "evt_2", sub.LastEventID)
	assert.True(t, st.processed["evt_1"])
}

func TestWebhook_InvalidSignature(t *testing.T) {
	st := newMemStore()
	svc := newTestWebhooks(st)

	payload := eventPayload(t, "evt_1", "checkout.session.completed", fixedNow, checkoutObject("u1", "standard"))
	badSig := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  "whsec_attacker",
	}).Header

	err := svc.HandleWebhook(context.Background(), payload, badSig)
	assert.Equal(t, domain.ESIGNATURE, domain.ErrorCode(err))
	assert.Empty(t, st.subs)
	assert.Empty(t, st.processed)
}

func TestWebhook_UnresolvableIsDeadLettered(t *testing.T) {
	st := newMemStore()
	svc := newTestWebhooks(st)

	payload := eventPayload(t, "evt_9", "customer.subscription.updated", fixedNow, subscriptionObject("active", nil, "price_std"))
	require.NoError(t, deliver(t, svc, payload))

	require.Len(t, st.deadLetters, 1)
	assert.Equal(t, "evt_9", st.deadLetters[0].EventID)
	assert.JSONEq(t, string(payload), string(st.deadLetters[0].Event))
	assert.True(t, st.processed["evt_9"])
	assert.Empty(t, st.subs)
}

func TestWebhook_ResolvesByStoredCustomer(t *testing.T) {
	st := newMemStore()
	st.customers["cus_1"] = "u7"
	svc := newTestWebhooks(st)

	payload := eventPayload(t, "evt_3", "customer.subscription.updated", fixedNow, subscriptionObject("active", nil, "price_pro"))
	require.NoError(t, deliver(t, svc, payload))

	sub, ok := st.subscription("u7")
	require.True(t, ok)
	assert.Equal(t, domain.PlanProfessional, sub.PlanID, "plan from price mapping")
}

func TestWebhook_SubscriptionDeleted(t *testing.T) {
	st := newMemStore()
	svc := newTestWebhooks(st)

	require.NoError(t, deliver(t, svc,
		eventPayload(t, "evt_1", "checkout.session.completed", fixedNow, checkoutObject("u1", "standard"))))
	require.NoError(t, deliver(t, svc,
		eventPayload(t, "evt_2", "customer.subscription.deleted", fixedNow.Add(time.Hour), subscriptionObject("canceled", nil, "price_std"))))

	sub, _ := st.subscription("u1")
	assert.Equal(t, domain.PlanFree, sub.PlanID)
	assert.Equal(t, domain.SubscriptionStatusCanceled, sub.Status)
	assert.Equal(t, domain.PlanFree, st.profiles["u1"])
}

// switchPlans completes a standard checkout on sub_1 and then a professional
// checkout on sub_2 for the same user.
func switchPlans(t *testing.T, svc *webhookService) {
	t.Helper()
	require.NoError(t, deliver(t, svc,
		eventPayload(t, "evt_1", "checkout.session.completed", fixedNow, checkoutObject("u1", "standard"))))

	second := checkoutObject("u1", "professional")
	second["id"] = "cs_test_2"
	second["subscription"] = "sub_2"
	require.NoError(t, deliver(t, svc,
		eventPayload(t, "evt_2", "checkout.session.completed", fixedNow.Add(time.Hour), second)))
}

func TestWebhook_ReplacedSubscriptionDeletionKeepsCurrentPlan(t *testing.T) {
	st := newMemStore()
	svc := newTestWebhooks(st)
	switchPlans(t, svc)

	old := subscriptionObject("canceled", map[string]any{"userId": "u1", "planId": "standard"}, "price_std")
	require.NoError(t, deliver(t, svc,
		eventPayload(t, "evt_3", "customer.subscription.deleted", fixedNow.Add(2*time.Hour), old)))

	sub, ok := st.subscription("u1")
	require.True(t, ok)
	assert.Equal(t, domain.PlanProfessional, sub.PlanID)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "sub_2", sub.StripeSubscriptionID)
	assert.Equal(t, "evt_2", sub.LastEventID)
	assert.Equal(t, domain.PlanProfessional, st.profiles["u1"])
	assert.True(t, st.processed["evt_3"])
}

func TestWebhook_ReplacedSubscriptionInvoiceRecordsPaymentOnly(t *testing.T) {
	st := newMemStore()
	svc := newTestWebhooks(st)
	switchPlans(t, svc)

	invoice := map[string]any{
		"id":           "in_old",
		"object":       "invoice",
		"customer":     "cus_1",
		"subscription": "sub_1",
		"amount_due":   999,
		"amount_paid":  0,
		"currency":     "usd",
	}
	require.NoError(t, deliver(t, svc,
		eventPayload(t, "evt_3", "invoice.payment_failed", fixedNow.Add(2*time.Hour), invoice)))

	sub, _ := st.subscription("u1")
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "sub_2", sub.StripeSubscriptionID)
	assert.Equal(t, domain.PaymentStatusFailed, st.payments["in_old"].Status)
}

func TestWebhook_InvoicePaymentFailed(t *testing.T) {
	st := newMemStore()
	svc := newTestWebhooks(st)

	require.NoError(t, deliver(t, svc,
		eventPayload(t, "evt_1", "checkout.session.completed", fixedNow, checkoutObject("u1", "standard"))))

	invoice := map[string]any{
		"id":           "in_1",
		"object":       "invoice",
		"customer":     "cus_1",
		"subscription": "sub_1",
		"amount_due":   999,
		"amount_paid":  0,
		"currency":     "usd",
		"lines": map[string]any{
			"object": "list",
			"data": []any{
				map[string]any{"id": "il_1", "object": "line_item", "price": map[string]any{"id": "price_std", "object": "price"}},
			},
		},
	}
	require.NoError(t, deliver(t, svc,
		eventPayload(t, "evt_2", "invoice.payment_failed", fixedNow.Add(time.Hour), invoice)))

	sub, _ := st.subscription("u1")
	assert.Equal(t, domain.SubscriptionStatusPastDue, sub.Status)
	assert.Equal(t, domain.PlanStandard, sub.PlanID)
	assert.Equal(t, domain.PaymentStatusFailed, st.payments["in_1"].Status)
	assert.Equal(t, int64(999), st.payments["in_1"].AmountCents)
}

func TestWebhook_MalformedObject(t *testing.T) {
	st := newMemStore()
	svc := newTestWebhooks(st)

	payload := eventPayload(t, "evt_1", "checkout.session.completed", fixedNow, map[string]any{"object": "checkout.session"})
	err := deliver(t, svc, payload)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	assert.False(t, st.processed["evt_1"])
}

func TestWebhook_UnhandledTypeAcknowledged(t *testing.T) {
	st := newMemStore()
	svc := newTestWebhooks(st)

	payload := eventPayload(t, "evt_1", "customer.created", fixedNow, map[string]any{"id": "cus_1", "object": "customer"})
	require.NoError(t, deliver(t, svc, payload))
	assert.True(t, st.processed["evt_1"])
	assert.Empty(t, st.subs)
}

func TestWebhook_StoreFailureSurfaces(t *testing.T) {
	st := newMemStore()
	st.upsertErr = domain.StoreUnavailable(assert.AnError, "mem")
	svc := newTestWebhooks(st)

	payload := eventPayload(t, "evt_1", "checkout.session.completed", fixedNow, checkoutObject("u1", "standard"))
	err := deliver(t, svc, payload)
	assert.Equal(t, domain.ESTORE, domain.ErrorCode(err))
	assert.False(t, st.processed["evt_1"])
}

func TestWebhook_ReprocessDeadLetter(t *testing.T) {
	st := newMemStore()
	svc := newTestWebhooks(st)

	payload := eventPayload(t, "evt_9", "customer.subscription.updated", fixedNow, subscriptionObject("active", nil, "price_ent"))
	var event stripe.Event
	require.NoError(t, json.Unmarshal(payload, &event))

	err := svc.Reprocess(context.Background(), event)
	assert.Equal(t, domain.EUNRESOLVABLE, domain.ErrorCode(err))

	st.customers["cus_1"] = "u3"
	require.NoError(t, svc.Reprocess(context.Background(), event))

	sub, ok := st.subscription("u3")
	require.True(t, ok)
	assert.Equal(t, domain.PlanEnterprise, sub.PlanID)
}
