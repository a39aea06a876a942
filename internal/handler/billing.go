package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/DukeRupert/notebookdir/internal/service"
)

// BillingHandler serves checkout and subscription management routes.
//
// Routes handled:
//   - POST /api/checkout                                 -> CreateCheckout
//   - POST /api/users/{userID}/portal                    -> OpenPortal
//   - POST /api/users/{userID}/subscription/cancel       -> CancelSubscription
//   - POST /api/users/{userID}/subscription/reactivate   -> ReactivateSubscription
//   - GET  /api/users/{userID}/payments                  -> ListPayments
type BillingHandler struct {
	checkout     service.CheckoutService
	entitlements service.EntitlementService
	logger       *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(checkout service.CheckoutService, entitlements service.EntitlementService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		checkout:     checkout,
		entitlements: entitlements,
		logger:       logger,
	}
}

// RegisterRoutes registers billing routes. protect guards every route; limit
// additionally rate limits checkout creation.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, protect, limit func(http.Handler) http.Handler) {
	mux.Handle("POST /api/checkout", protect(limit(http.HandlerFunc(h.CreateCheckout))))
	mux.Handle("POST /api/users/{userID}/portal", protect(http.HandlerFunc(h.OpenPortal)))
	mux.Handle("POST /api/users/{userID}/subscription/cancel", protect(http.HandlerFunc(h.CancelSubscription)))
	mux.Handle("POST /api/users/{userID}/subscription/reactivate", protect(http.HandlerFunc(h.ReactivateSubscription)))
	mux.Handle("GET /api/users/{userID}/payments", protect(http.HandlerFunc(h.ListPayments)))
}

type checkoutRequest struct {
	UserID     string `json:"userId"`
	PlanID     string `json:"planId"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type sessionResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId,omitempty"`
}

// CreateCheckout starts a hosted checkout for a paid plan.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, "checkout.decode", &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	session, err := h.checkout.CreateCheckoutSession(r.Context(), service.CreateCheckoutParams{
		UserID:     req.UserID,
		PlanID:     req.PlanID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{URL: session.URL, SessionID: session.ID})
}

type portalRequest struct {
	ReturnURL string `json:"returnUrl"`
}

// OpenPortal creates a billing portal session for the user.
func (h *BillingHandler) OpenPortal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := decodeJSON(r, "portal.decode", &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	session, err := h.checkout.CreatePortalSession(r.Context(), r.PathValue("userID"), req.ReturnURL)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{URL: session.URL})
}

// CancelSubscription schedules cancellation at the end of the period.
func (h *BillingHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.entitlements.CancelAtPeriodEnd(r.Context(), r.PathValue("userID"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// ReactivateSubscription undoes a scheduled cancellation.
func (h *BillingHandler) ReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.entitlements.Reactivate(r.Context(), r.PathValue("userID"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// ListPayments returns the user's payment history, newest first.
func (h *BillingHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	payments, err := h.entitlements.ListPayments(r.Context(), r.PathValue("userID"), limit)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}
