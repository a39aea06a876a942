package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/middleware"
	"github.com/DukeRupert/notebookdir/internal/service"
)

// EntitlementHandler serves plan, subscription and usage reads and activity
// tracking.
//
// Routes handled:
//   - GET  /api/plans                               -> ListPlans
//   - GET  /api/plans/{planID}                      -> GetPlan
//   - GET  /api/users/{userID}/subscription         -> GetSubscription
//   - GET  /api/users/{userID}/usage                -> GetUsage
//   - GET  /api/users/{userID}/actions/{action}     -> CanPerformAction
//   - POST /api/activity                            -> TrackActivity
type EntitlementHandler struct {
	entitlements service.EntitlementService
	usage        service.UsageService
	logger       *slog.Logger
}

// NewEntitlementHandler creates a new EntitlementHandler.
func NewEntitlementHandler(entitlements service.EntitlementService, usage service.UsageService, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		entitlements: entitlements,
		usage:        usage,
		logger:       logger,
	}
}

// RegisterRoutes registers entitlement routes. The plan catalog is public.
func (h *EntitlementHandler) RegisterRoutes(mux *http.ServeMux, protect, limit func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /api/plans", h.ListPlans)
	mux.HandleFunc("GET /api/plans/{planID}", h.GetPlan)
	mux.Handle("GET /api/users/{userID}/subscription", protect(http.HandlerFunc(h.GetSubscription)))
	mux.Handle("GET /api/users/{userID}/usage", protect(http.HandlerFunc(h.GetUsage)))
	mux.Handle("GET /api/users/{userID}/actions/{action}", protect(http.HandlerFunc(h.CanPerformAction)))
	mux.Handle("POST /api/activity", protect(limit(http.HandlerFunc(h.TrackActivity))))
}

type planResponse struct {
	domain.Plan
	DisplayPrice string `json:"display_price"`
}

func toPlanResponse(p domain.Plan) planResponse {
	return planResponse{Plan: p, DisplayPrice: p.DisplayPrice()}
}

// ListPlans returns the catalog in display order.
func (h *EntitlementHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := domain.Plans()
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, toPlanResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": out})
}

// GetPlan returns one catalog entry.
func (h *EntitlementHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := domain.GetPlan(r.PathValue("planID"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponse(plan))
}

// GetSubscription returns the user's effective subscription.
func (h *EntitlementHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.entitlements.GetSubscription(r.Context(), r.PathValue("userID"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// GetUsage returns the usage report for the current period.
func (h *EntitlementHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	report, err := h.usage.GetUsage(r.Context(), r.PathValue("userID"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CanPerformAction reports whether the user may perform the action now.
func (h *EntitlementHandler) CanPerformAction(w http.ResponseWriter, r *http.Request) {
	action, err := domain.ParseAction(r.PathValue("action"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	allowed, err := h.usage.CanPerformAction(r.Context(), r.PathValue("userID"), action)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"action":  action,
		"allowed": allowed,
	})
}

type activityRequest struct {
	UserID   string         `json:"userId"`
	Action   string         `json:"action"`
	Metadata map[string]any `json:"metadata"`
}

// TrackActivity records a user activity event. Tracking is best-effort, so
// the response reports the outcome instead of failing.
func (h *EntitlementHandler) TrackActivity(w http.ResponseWriter, r *http.Request) {
	const op = "activity.track"

	var req activityRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	fields := map[string]string{}
	if req.UserID == "" {
		fields["userId"] = "User id is required"
	}
	if req.Action == "" {
		fields["action"] = "Action is required"
	}
	if len(fields) > 0 {
		ErrorResponse(w, r, h.logger, &domain.ValidationError{Op: op, Fields: fields})
		return
	}

	tracked := h.usage.TrackActivity(r.Context(), service.TrackActivityParams{
		UserID:    req.UserID,
		Action:    req.Action,
		Metadata:  req.Metadata,
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})

	writeJSON(w, http.StatusOK, map[string]bool{"tracked": tracked})
}
