package domain

import (
	"time"

	"github.com/google/uuid"
)

// UsageEvent is one recorded occurrence of a tracked user action.
type UsageEvent struct {
	ID        uuid.UUID      `json:"id"`
	UserID    string         `json:"user_id"`
	Action    Action         `json:"activity_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// UsageReport is a user's consumption against the limits of their plan
// for the current billing period.
type UsageReport struct {
	Plan             Plan               `json:"plan"`
	Usage            map[string]int64   `json:"usage"`
	Limits           Limits             `json:"limits"`
	Percentage       map[string]float64 `json:"percentage"`
	Remaining        map[string]int64   `json:"remaining"`
	Unlimited        map[string]bool    `json:"unlimited"`
	PeriodStart      time.Time          `json:"period_start"`
	PeriodEnd        time.Time          `json:"period_end"`
	HasPremiumAccess bool               `json:"has_premium_access"`
	Source           SubscriptionSource `json:"source"`
}

// NewUsageReport builds the report from per-action counts.
func NewUsageReport(sub *Subscription, counts map[Action]int64) *UsageReport {
	plan := sub.EffectivePlan()
	r := &UsageReport{
		Plan:             plan,
		Usage:            make(map[string]int64, len(Actions)),
		Limits:           plan.Limits,
		Percentage:       make(map[string]float64, len(Actions)),
		Remaining:        make(map[string]int64, len(Actions)),
		Unlimited:        make(map[string]bool, len(Actions)),
		PeriodStart:      sub.CurrentPeriodStart,
		PeriodEnd:        sub.CurrentPeriodEnd,
		HasPremiumAccess: plan.Limits.PremiumContent,
		Source:           sub.Source,
	}
	for _, a := range Actions {
		key := a.LimitKey()
		used := counts[a]
		limit, _ := plan.Limits.For(a)
		r.Usage[key] = used
		r.Percentage[key] = Percentage(used, limit)
		r.Remaining[key] = Remaining(used, limit)
		r.Unlimited[key] = limit == Unlimited
	}
	return r
}

// Percentage is min(used/limit*100, 100), or 0 when limit <= 0.
func Percentage(used, limit int64) float64 {
	if limit <= 0 || used <= 0 {
		return 0
	}
	p := float64(used) / float64(limit) * 100
	if p > 100 {
		return 100
	}
	return p
}

// Remaining is how many more actions are allowed, or Unlimited.
func Remaining(used, limit int64) int64 {
	if limit == Unlimited {
		return Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
