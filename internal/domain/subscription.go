package domain

import (
	"time"
)

// SubscriptionStatus represents the possible states of a user's subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusInactive   SubscriptionStatus = "inactive"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusPaused     SubscriptionStatus = "paused"
)

// ParseSubscriptionStatus maps a provider status onto a known status.
// Unknown values map to inactive so they never grant access.
func ParseSubscriptionStatus(s string) SubscriptionStatus {
	switch SubscriptionStatus(s) {
	case SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue,
		SubscriptionStatusCanceled, SubscriptionStatusUnpaid, SubscriptionStatusIncomplete,
		SubscriptionStatusPaused:
		return SubscriptionStatus(s)
	case "incomplete_expired":
		return SubscriptionStatusCanceled
	}
	return SubscriptionStatusInactive
}

// SubscriptionSource says where a subscription value came from.
type SubscriptionSource string

const (
	SourceStore   SubscriptionSource = "store"
	SourceDefault SubscriptionSource = "default"
	SourceDemo    SubscriptionSource = "demo"
)

// DefaultPeriod is the length of a synthesized billing period.
const DefaultPeriod = 30 * 24 * time.Hour

// Subscription binds a user to a plan and its provider-tracked lifecycle state.
// There is at most one per user.
type Subscription struct {
	UserID               string             `json:"user_id"`
	PlanID               PlanID             `json:"plan_id"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodStart   time.Time          `json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	StripeCustomerID     string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string             `json:"stripe_subscription_id,omitempty"`
	LastEventID          string             `json:"-"`
	LastEventAt          *time.Time         `json:"-"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
	Source               SubscriptionSource `json:"source"`
}

// DefaultSubscription is the free subscription of a user with no stored row.
func DefaultSubscription(userID string, now time.Time) *Subscription {
	return &Subscription{
		UserID:             userID,
		PlanID:             PlanFree,
		Status:             SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.Add(DefaultPeriod),
		CreatedAt:          now,
		UpdatedAt:          now,
		Source:             SourceDefault,
	}
}

// DemoSubscription is served when the store cannot be reached.
func DemoSubscription(userID string, now time.Time) *Subscription {
	s := DefaultSubscription(userID, now)
	s.Source = SourceDemo
	return s
}

// IsActive returns true if the subscription is active or trialing.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}

// Plan returns the catalog plan, falling back to free for unknown ids.
func (s *Subscription) Plan() Plan {
	return PlanOrFree(s.PlanID)
}

// EffectivePlan is the plan whose limits currently apply.
// Subscriptions that are not active fall back to the free plan.
func (s *Subscription) EffectivePlan() Plan {
	if !s.IsActive() {
		return PlanOrFree(PlanFree)
	}
	return s.Plan()
}

// HasPremiumAccess returns true if the effective plan includes premium content.
func (s *Subscription) HasPremiumAccess() bool {
	return s.EffectivePlan().Limits.PremiumContent
}

// UsageWindow returns the interval usage is counted over. Stored rows use
// their billing period while it is current; synthesized rows and lapsed
// periods use the trailing DefaultPeriod.
func (s *Subscription) UsageWindow(now time.Time) (time.Time, time.Time) {
	if s.Source == SourceStore &&
		!s.CurrentPeriodStart.IsZero() &&
		!s.CurrentPeriodStart.After(now) &&
		now.Before(s.CurrentPeriodEnd) {
		return s.CurrentPeriodStart, s.CurrentPeriodEnd
	}
	return now.Add(-DefaultPeriod), now
}

// SubscriptionChange is a partial update derived from one provider event.
// Zero values leave the corresponding field unchanged.
type SubscriptionChange struct {
	UserID               string
	EventID              string
	EventAt              time.Time
	PlanID               PlanID
	Status               SubscriptionStatus
	PeriodStart          time.Time
	PeriodEnd            time.Time
	CancelAtPeriodEnd    *bool
	StripeCustomerID     string
	StripeSubscriptionID string
}

// Apply merges the change into a copy of current.
func (c SubscriptionChange) Apply(current Subscription) Subscription {
	next := current
	next.UserID = c.UserID
	if c.PlanID != "" {
		next.PlanID = c.PlanID
	}
	if c.Status != "" {
		next.Status = c.Status
	}
	if !c.PeriodStart.IsZero() {
		next.CurrentPeriodStart = c.PeriodStart
	}
	if !c.PeriodEnd.IsZero() {
		next.CurrentPeriodEnd = c.PeriodEnd
	}
	if c.CancelAtPeriodEnd != nil {
		next.CancelAtPeriodEnd = *c.CancelAtPeriodEnd
	}
	if c.StripeCustomerID != "" {
		next.StripeCustomerID = c.StripeCustomerID
	}
	if c.StripeSubscriptionID != "" {
		next.StripeSubscriptionID = c.StripeSubscriptionID
	}
	next.LastEventID = c.EventID
	if !c.EventAt.IsZero() {
		at := c.EventAt
		next.LastEventAt = &at
	}
	return next
}

// IsStaleFor returns true if the change is older than the last event applied to s.
func (c SubscriptionChange) IsStaleFor(s *Subscription) bool {
	if s == nil || s.LastEventAt == nil || c.EventAt.IsZero() {
		return false
	}
	return c.EventAt.Before(*s.LastEventAt)
}

// IsSupersededFor returns true if the change belongs to a provider
// subscription other than the live one s tracks. Canceled rows and rows with
// no provider subscription accept any.
func (c SubscriptionChange) IsSupersededFor(s *Subscription) bool {
	if s == nil || s.StripeSubscriptionID == "" || c.StripeSubscriptionID == "" {
		return false
	}
	if s.Status == SubscriptionStatusCanceled {
		return false
	}
	return c.StripeSubscriptionID != s.StripeSubscriptionID
}

// StaleEvent creates the error returned when an older event is rejected.
func StaleEvent(op, eventID string) *Error {
	return Errorf(ECONFLICT, op, "event %s is older than the stored subscription state", eventID)
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}
