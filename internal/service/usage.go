package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/metrics"
	"github.com/DukeRupert/notebookdir/internal/store"
	"github.com/google/uuid"
)

// trackTimeout bounds a usage write so it never holds up the action it records.
const trackTimeout = 2 * time.Second

const maxActivityTypeLength = 64

// UsageService records usage events and gates actions against plan limits.
type UsageService interface {
	// TrackActivity appends a usage event. It is best-effort: failures are
	// logged and reported as false, never returned.
	TrackActivity(ctx context.Context, params TrackActivityParams) bool

	// CanPerformAction reports whether the user is still within the plan
	// limit for action in the current period.
	CanPerformAction(ctx context.Context, userID string, action domain.Action) (bool, error)

	// GetUsage returns the user's consumption against their plan limits.
	GetUsage(ctx context.Context, userID string) (*domain.UsageReport, error)
}

// TrackActivityParams contains the fields of a usage event.
type TrackActivityParams struct {
	UserID    string
	Action    string
	Metadata  map[string]any
	IPAddress string
	UserAgent string
}

type usageService struct {
	store        store.UsageStore
	entitlements EntitlementService
	logger       *slog.Logger
	now          func() time.Time
}

// NewUsageService creates a new UsageService.
func NewUsageService(st store.UsageStore, entitlements EntitlementService, logger *slog.Logger) UsageService {
	return &usageService{
		store:        st,
		entitlements: entitlements,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *usageService) TrackActivity(ctx context.Context, params TrackActivityParams) bool {
	userID := strings.TrimSpace(params.UserID)
	action := strings.ToLower(strings.TrimSpace(params.Action))
	if userID == "" || action == "" || len(action) > maxActivityTypeLength {
		s.logger.Warn("usage event rejected", "user_id", userID, "action", action)
		metrics.UsageEventsTotal.WithLabelValues("invalid", "rejected").Inc()
		return false
	}
	if a, err := domain.ParseAction(action); err == nil {
		action = string(a)
	}

	ctx, cancel := context.WithTimeout(ctx, trackTimeout)
	defer cancel()

	err := s.store.RecordUsage(ctx, domain.UsageEvent{
		ID:        uuid.New(),
		UserID:    userID,
		Action:    domain.Action(action),
		Metadata:  params.Metadata,
		IPAddress: params.IPAddress,
		UserAgent: params.UserAgent,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.logger.Warn("failed to record usage event",
			"user_id", userID,
			"action", action,
			"error", err,
		)
		metrics.UsageEventsTotal.WithLabelValues(action, "failed").Inc()
		return false
	}

	metrics.UsageEventsTotal.WithLabelValues(action, "recorded").Inc()
	return true
}

func (s *usageService) CanPerformAction(ctx context.Context, userID string, action domain.Action) (bool, error) {
	const op = "usage.can_perform_action"

	action, err := domain.ParseAction(string(action))
	if err != nil {
		return false, err
	}

	sub, err := s.entitlements.GetSubscription(ctx, userID)
	if err != nil {
		return false, err
	}

	limit, _ := sub.EffectivePlan().Limits.For(action)
	if limit == domain.Unlimited {
		return true, nil
	}
	if limit <= 0 {
		metrics.UsageDenialsTotal.WithLabelValues(string(action)).Inc()
		return false, nil
	}

	start, _ := sub.UsageWindow(s.now())
	count, err := s.store.CountUsage(ctx, sub.UserID, action, start)
	if err != nil {
		// Fail closed.
		s.logger.Error("failed to count usage, denying action",
			"op", op,
			"user_id", sub.UserID,
			"action", action,
			"error", err,
		)
		metrics.UsageDenialsTotal.WithLabelValues(string(action)).Inc()
		return false, nil
	}

	if count >= limit {
		metrics.UsageDenialsTotal.WithLabelValues(string(action)).Inc()
		return false, nil
	}
	return true, nil
}

func (s *usageService) GetUsage(ctx context.Context, userID string) (*domain.UsageReport, error) {
	sub, err := s.entitlements.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	start, end := sub.UsageWindow(s.now())

	counts := map[domain.Action]int64{}
	if sub.Source != domain.SourceDemo {
		counts, err = s.store.CountUsageByAction(ctx, sub.UserID, start)
		if err != nil {
			return nil, err
		}
	}

	report := domain.NewUsageReport(sub, counts)
	report.PeriodStart = start
	report.PeriodEnd = end
	return report, nil
}
