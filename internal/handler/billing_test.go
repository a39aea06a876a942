package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DukeRupert/notebookdir/internal/billing"
	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBillingMux(checkout *mockCheckout, ent *mockEntitlements) *http.ServeMux {
	mux := http.NewServeMux()
	NewBillingHandler(checkout, ent, testLogger()).RegisterRoutes(mux, passThrough, passThrough)
	return mux
}

func TestCreateCheckout(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
		retryable  bool
	}{
		{
			name:       "success",
			body:       `{"userId":"u1","planId":"standard","successUrl":"https://x.test/ok","cancelUrl":"https://x.test/no"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "invalid plan",
			body:       `{"userId":"u1","planId":"gold","successUrl":"https://x.test/ok","cancelUrl":"https://x.test/no"}`,
			err:        domain.InvalidPlan("checkout.create", "gold"),
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.EPLAN,
		},
		{
			name:       "provider down",
			body:       `{"userId":"u1","planId":"standard","successUrl":"https://x.test/ok","cancelUrl":"https://x.test/no"}`,
			err:        domain.ProviderUnavailable(errors.New("timeout"), "checkout.create"),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   domain.EPROVIDER,
			retryable:  true,
		},
		{
			name:       "malformed body",
			body:       `{"userId":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.EINVALID,
		},
		{
			name:       "empty body",
			body:       ``,
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.EINVALID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got service.CreateCheckoutParams
			checkout := &mockCheckout{
				CreateCheckoutSessionFn: func(_ context.Context, params service.CreateCheckoutParams) (*billing.Session, error) {
					got = params
					if tt.err != nil {
						return nil, tt.err
					}
					return &billing.Session{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}, nil
				},
			}
			mux := newBillingMux(checkout, &mockEntitlements{})

			req := httptest.NewRequest("POST", "/api/checkout", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				var body map[string]string
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, "https://checkout.stripe.test/cs_1", body["url"])
				assert.Equal(t, "u1", got.UserID)
				assert.Equal(t, "standard", got.PlanID)
				assert.Equal(t, "https://x.test/ok", got.SuccessURL)
				return
			}
			body := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.retryable, body.Retryable)
		})
	}
}

func TestOpenPortal(t *testing.T) {
	checkout := &mockCheckout{
		CreatePortalSessionFn: func(_ context.Context, userID, returnURL string) (*billing.Session, error) {
			assert.Equal(t, "u1", userID)
			assert.Equal(t, "https://x.test/account", returnURL)
			return &billing.Session{URL: "https://billing.stripe.test/p"}, nil
		},
	}
	mux := newBillingMux(checkout, &mockEntitlements{})

	req := httptest.NewRequest("POST", "/api/users/u1/portal", strings.NewReader(`{"returnUrl":"https://x.test/account"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://billing.stripe.test/p")
}

func TestCancelAndReactivate(t *testing.T) {
	ent := &mockEntitlements{
		CancelAtPeriodEndFn: func(_ context.Context, userID string) (*domain.Subscription, error) {
			return &domain.Subscription{UserID: userID, PlanID: domain.PlanStandard, Status: domain.SubscriptionStatusActive, CancelAtPeriodEnd: true}, nil
		},
		ReactivateFn: func(_ context.Context, userID string) (*domain.Subscription, error) {
			return nil, domain.StoreUnavailable(errors.New("conn refused"), "entitlement.reactivate")
		},
	}
	mux := newBillingMux(&mockCheckout{}, ent)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/users/u1/subscription/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var sub domain.Subscription
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sub))
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/users/u1/subscription/reactivate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, domain.ESTORE, decodeError(t, rec).Code)
}

func TestListPayments(t *testing.T) {
	var gotLimit int
	ent := &mockEntitlements{
		ListPaymentsFn: func(_ context.Context, userID string, limit int) ([]domain.Payment, error) {
			gotLimit = limit
			return []domain.Payment{{UserID: userID, AmountCents: 999, Currency: "usd", Status: domain.PaymentStatusSucceeded}}, nil
		},
	}
	mux := newBillingMux(&mockCheckout{}, ent)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/users/u1/payments?limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, gotLimit)
	var body struct {
		Payments []domain.Payment `json:"payments"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Payments, 1)
	assert.Equal(t, int64(999), body.Payments[0].AmountCents)
}
