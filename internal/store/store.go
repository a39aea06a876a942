// Package store defines the persistence interfaces used by the billing and
// entitlement services, with PostgreSQL, demo and caching implementations.
//
// The composition root picks one implementation; services never check
// which one they were given.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/google/uuid"
)

// SubscriptionStore persists the per-user subscription record.
type SubscriptionStore interface {
	// GetSubscription returns the stored row or a domain ENOTFOUND error.
	GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error)

	// FindByStripeSubscription returns the row holding a Stripe subscription id.
	FindByStripeSubscription(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error)

	// FindUserByStripeCustomer resolves a Stripe customer id to a user id.
	FindUserByStripeCustomer(ctx context.Context, stripeCustomerID string) (string, error)

	// UpsertSubscription writes sub keyed by user id. When sub.LastEventAt is
	// older than the stored value the write is rejected with ECONFLICT.
	UpsertSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error)

	// SetCancelAtPeriodEnd toggles only the cancel flag.
	SetCancelAtPeriodEnd(ctx context.Context, userID string, cancel bool) (*domain.Subscription, error)

	// UpdateProfileTier mirrors the plan onto the user's profile.
	UpdateProfileTier(ctx context.Context, userID string, plan domain.PlanID, stripeCustomerID string) error
}

// UsageStore persists usage events.
type UsageStore interface {
	RecordUsage(ctx context.Context, event domain.UsageEvent) error
	CountUsage(ctx context.Context, userID string, action domain.Action, since time.Time) (int64, error)
	CountUsageByAction(ctx context.Context, userID string, since time.Time) (map[domain.Action]int64, error)
}

// EventStore records processed webhook event ids.
type EventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string, eventAt time.Time) error
}

// PaymentStore is the payments ledger.
type PaymentStore interface {
	RecordPayment(ctx context.Context, payment domain.Payment) error
	ListPayments(ctx context.Context, userID string, limit int) ([]domain.Payment, error)
}

// DeadLetterStore queues webhook events whose subscriber could not be resolved.
type DeadLetterStore interface {
	EnqueueDeadLetter(ctx context.Context, dl DeadLetterEvent) error
	ListDeadLetters(ctx context.Context, status string, limit int) ([]domain.DeadLetter, error)
	RequeueDeadLetter(ctx context.Context, id uuid.UUID) error
}

// Store is everything the service layer needs from persistence.
type Store interface {
	SubscriptionStore
	UsageStore
	EventStore
	PaymentStore
	DeadLetterStore
}

// DeadLetterEvent is a verified webhook event held for reconciliation.
type DeadLetterEvent struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Reason    string          `json:"reason"`
	Event     json.RawMessage `json:"event"`
}
