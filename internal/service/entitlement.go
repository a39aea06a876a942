// Package service contains the business logic layer.
//
// This file implements the entitlement service: reading a user's
// subscription, toggling cancel-at-period-end and listing payments.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/notebookdir/internal/billing"
	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/metrics"
	"github.com/DukeRupert/notebookdir/internal/store"
)

const (
	defaultPaymentsLimit = 20
	maxPaymentsLimit     = 100
)

// =============================================================================
// Interface Definition
// =============================================================================

// EntitlementService defines operations on a user's subscription.
type EntitlementService interface {
	// GetSubscription returns the stored subscription, the free default when
	// none exists, or the demo default when the store cannot be read.
	GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error)

	// CancelAtPeriodEnd schedules cancellation at the end of the current period.
	CancelAtPeriodEnd(ctx context.Context, userID string) (*domain.Subscription, error)

	// Reactivate clears a scheduled cancellation.
	Reactivate(ctx context.Context, userID string) (*domain.Subscription, error)

	// HasPremiumAccess reports whether the user's effective plan includes premium content.
	HasPremiumAccess(ctx context.Context, userID string) (bool, error)

	// ListPayments returns the user's most recent payments.
	ListPayments(ctx context.Context, userID string, limit int) ([]domain.Payment, error)
}

// =============================================================================
// Implementation
// =============================================================================

type entitlementService struct {
	store    store.Store
	provider billing.Provider
	logger   *slog.Logger
	now      func() time.Time
}

// NewEntitlementService creates a new EntitlementService.
func NewEntitlementService(st store.Store, provider billing.Provider, logger *slog.Logger) EntitlementService {
	return &entitlementService{
		store:    st,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *entitlementService) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	const op = "entitlement.get_subscription"

	userID, err := requireUserID(op, userID)
	if err != nil {
		return nil, err
	}

	sub, err := s.store.GetSubscription(ctx, userID)
	if err == nil {
		return sub, nil
	}
	if domain.ErrorCode(err) == domain.ENOTFOUND {
		return domain.DefaultSubscription(userID, s.now()), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	metrics.DemoFallbacksTotal.Inc()
	s.logger.Warn("subscription store unavailable, serving demo subscription",
		"user_id", userID,
		"error", err,
	)
	return domain.DemoSubscription(userID, s.now()), nil
}

func (s *entitlementService) CancelAtPeriodEnd(ctx context.Context, userID string) (*domain.Subscription, error) {
	return s.setCancelAtPeriodEnd(ctx, "entitlement.cancel_at_period_end", userID, true)
}

func (s *entitlementService) Reactivate(ctx context.Context, userID string) (*domain.Subscription, error) {
	return s.setCancelAtPeriodEnd(ctx, "entitlement.reactivate", userID, false)
}

// setCancelAtPeriodEnd changes only the cancel flag. When the subscription is
// billed through Stripe the flag is set there first so the next webhook does
// not revert it.
func (s *entitlementService) setCancelAtPeriodEnd(ctx context.Context, op, userID string, cancel bool) (*domain.Subscription, error) {
	userID, err := requireUserID(op, userID)
	if err != nil {
		return nil, err
	}

	sub, err := s.store.GetSubscription(ctx, userID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return nil, domain.NotFound(op, "subscription", userID)
		}
		return nil, err
	}

	if sub.StripeSubscriptionID != "" {
		if err := s.provider.SetCancelAtPeriodEnd(ctx, sub.StripeSubscriptionID, cancel); err != nil {
			return nil, err
		}
	}

	updated, err := s.store.SetCancelAtPeriodEnd(ctx, userID, cancel)
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription cancel flag updated",
		"user_id", userID,
		"cancel_at_period_end", cancel,
		"stripe_subscription_id", sub.StripeSubscriptionID,
	)
	return updated, nil
}

func (s *entitlementService) HasPremiumAccess(ctx context.Context, userID string) (bool, error) {
	sub, err := s.GetSubscription(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub.HasPremiumAccess(), nil
}

func (s *entitlementService) ListPayments(ctx context.Context, userID string, limit int) ([]domain.Payment, error) {
	const op = "entitlement.list_payments"

	userID, err := requireUserID(op, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPaymentsLimit
	}
	if limit > maxPaymentsLimit {
		limit = maxPaymentsLimit
	}
	return s.store.ListPayments(ctx, userID, limit)
}

// requireUserID trims and validates a user id.
func requireUserID(op, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", domain.NewValidationError(op, "userId", "User ID is required")
	}
	if len(userID) > 255 {
		return "", domain.NewValidationError(op, "userId", "User ID is too long")
	}
	return userID, nil
}
