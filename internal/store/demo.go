package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/google/uuid"
)

// errDemoMode is wrapped into every write failure of the demo store.
var errDemoMode = errors.New("no database configured (demo mode)")

// Demo is the fixed-response store used when no database is configured.
// Reads return the free demo subscription and zero usage; writes fail with
// StoreUnavailable.
type Demo struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewDemo creates the demo store and logs that it is in use.
func NewDemo(logger *slog.Logger) *Demo {
	logger.Warn("running with demo subscription store: entitlements are not persisted")
	return &Demo{logger: logger, now: time.Now}
}

func (d *Demo) GetSubscription(_ context.Context, userID string) (*domain.Subscription, error) {
	return domain.DemoSubscription(userID, d.now()), nil
}

func (d *Demo) FindByStripeSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	return nil, domain.StoreUnavailable(errDemoMode, "store.find_by_stripe_subscription")
}

func (d *Demo) FindUserByStripeCustomer(_ context.Context, id string) (string, error) {
	return "", domain.StoreUnavailable(errDemoMode, "store.find_user_by_stripe_customer")
}

func (d *Demo) UpsertSubscription(_ context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	return nil, domain.StoreUnavailable(errDemoMode, "store.upsert_subscription")
}

func (d *Demo) SetCancelAtPeriodEnd(_ context.Context, userID string, cancel bool) (*domain.Subscription, error) {
	return nil, domain.StoreUnavailable(errDemoMode, "store.set_cancel_at_period_end")
}

func (d *Demo) UpdateProfileTier(_ context.Context, userID string, plan domain.PlanID, customerID string) error {
	return domain.StoreUnavailable(errDemoMode, "store.update_profile_tier")
}

func (d *Demo) RecordUsage(_ context.Context, event domain.UsageEvent) error {
	d.logger.Debug("demo store dropped usage event", "user_id", event.UserID, "action", event.Action)
	return domain.StoreUnavailable(errDemoMode, "store.record_usage")
}

func (d *Demo) CountUsage(_ context.Context, userID string, action domain.Action, since time.Time) (int64, error) {
	return 0, nil
}

func (d *Demo) CountUsageByAction(_ context.Context, userID string, since time.Time) (map[domain.Action]int64, error) {
	return map[domain.Action]int64{}, nil
}

func (d *Demo) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	return false, domain.StoreUnavailable(errDemoMode, "store.is_event_processed")
}

func (d *Demo) MarkEventProcessed(_ context.Context, eventID, eventType string, eventAt time.Time) error {
	return domain.StoreUnavailable(errDemoMode, "store.mark_event_processed")
}

func (d *Demo) RecordPayment(_ context.Context, payment domain.Payment) error {
	return domain.StoreUnavailable(errDemoMode, "store.record_payment")
}

func (d *Demo) ListPayments(_ context.Context, userID string, limit int) ([]domain.Payment, error) {
	return []domain.Payment{}, nil
}

func (d *Demo) EnqueueDeadLetter(_ context.Context, dl DeadLetterEvent) error {
	return domain.StoreUnavailable(errDemoMode, "store.enqueue_dead_letter")
}

func (d *Demo) ListDeadLetters(_ context.Context, status string, limit int) ([]domain.DeadLetter, error) {
	return []domain.DeadLetter{}, nil
}

func (d *Demo) RequeueDeadLetter(_ context.Context, id uuid.UUID) error {
	return domain.StoreUnavailable(errDemoMode, "store.requeue_dead_letter")
}
