// Package domain contains core business types and interfaces.
//
// This file defines the plan catalog: the single source of truth for plan
// pricing, features and per-period usage limits.
package domain

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// PlanID identifies a subscription plan.
type PlanID string

const (
	PlanFree         PlanID = "free"
	PlanStandard     PlanID = "standard"
	PlanProfessional PlanID = "professional"
	PlanEnterprise   PlanID = "enterprise"
)

// Interval is the billing interval of a plan.
type Interval string

const (
	IntervalMonth Interval = "month"
)

// Unlimited marks a limit with no cap.
const Unlimited int64 = -1

// Action is a rate-limited user action counted against plan limits.
type Action string

const (
	ActionSearch   Action = "search"
	ActionDownload Action = "download"
	ActionAPICall  Action = "api_call"
)

// Actions lists every action with a per-period limit.
var Actions = []Action{ActionSearch, ActionDownload, ActionAPICall}

// LimitKey returns the limit/usage key reported for the action.
func (a Action) LimitKey() string {
	switch a {
	case ActionSearch:
		return "searches"
	case ActionDownload:
		return "downloads"
	case ActionAPICall:
		return "api_calls"
	}
	return string(a)
}

// ParseAction accepts either the action name or its limit key.
func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range Actions {
		if s == string(a) || s == a.LimitKey() {
			return a, nil
		}
	}
	return "", Invalid("action.parse", "unknown action: "+s)
}

// Limits are the per-period caps of a plan. Unlimited (-1) means no cap.
type Limits struct {
	Searches           int64 `json:"searches"`
	Downloads          int64 `json:"downloads"`
	APICalls           int64 `json:"api_calls"`
	SavedNotebooks     int64 `json:"saved_notebooks"`
	SubmittedNotebooks int64 `json:"submitted_notebooks"`
	PremiumContent     bool  `json:"premium_content"`
}

// For returns the limit that applies to an action.
func (l Limits) For(a Action) (int64, bool) {
	switch a {
	case ActionSearch:
		return l.Searches, true
	case ActionDownload:
		return l.Downloads, true
	case ActionAPICall:
		return l.APICalls, true
	}
	return 0, false
}

// Plan is an immutable catalog entry.
type Plan struct {
	ID       PlanID          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Interval Interval        `json:"interval"`
	Features []string        `json:"features"`
	Limits   Limits          `json:"limits"`
}

// IsFree returns true for plans that are never billed.
func (p Plan) IsFree() bool {
	return p.Price.IsZero()
}

// DisplayPrice formats the price for display, e.g. "$ 9.99".
func (p Plan) DisplayPrice() string {
	if p.IsFree() {
		return "Free"
	}
	unit, err := currency.ParseISO(p.Currency)
	if err != nil {
		return p.Price.StringFixed(2) + " " + p.Currency
	}
	printer := message.NewPrinter(language.English)
	return printer.Sprint(currency.Symbol(unit.Amount(p.Price.InexactFloat64())))
}

var catalog = []Plan{
	{
		ID:       PlanFree,
		Name:     "Explorer",
		Price:    decimal.Zero,
		Currency: "USD",
		Interval: IntervalMonth,
		Features: []string{
			"Browse all public notebooks",
			"50 searches per month",
			"5 audio downloads per month",
			"Save up to 5 notebooks",
		},
		Limits: Limits{
			Searches:           50,
			Downloads:          5,
			APICalls:           0,
			SavedNotebooks:     5,
			SubmittedNotebooks: 2,
		},
	},
	{
		ID:       PlanStandard,
		Name:     "Standard",
		Price:    decimal.RequireFromString("9.99"),
		Currency: "USD",
		Interval: IntervalMonth,
		Features: []string{
			"500 searches per month",
			"50 audio downloads per month",
			"Unlimited saved notebooks",
			"Unlimited notebook submissions",
			"API access (100 calls per month)",
		},
		Limits: Limits{
			Searches:           500,
			Downloads:          50,
			APICalls:           100,
			SavedNotebooks:     Unlimited,
			SubmittedNotebooks: Unlimited,
		},
	},
	{
		ID:       PlanProfessional,
		Name:     "Professional",
		Price:    decimal.RequireFromString("19.99"),
		Currency: "USD",
		Interval: IntervalMonth,
		Features: []string{
			"Unlimited searches",
			"200 audio downloads per month",
			"Premium content",
			"API access (1,000 calls per month)",
			"Priority support",
		},
		Limits: Limits{
			Searches:           Unlimited,
			Downloads:          200,
			APICalls:           1000,
			SavedNotebooks:     Unlimited,
			SubmittedNotebooks: Unlimited,
			PremiumContent:     true,
		},
	},
	{
		ID:       PlanEnterprise,
		Name:     "Enterprise",
		Price:    decimal.RequireFromString("99.00"),
		Currency: "USD",
		Interval: IntervalMonth,
		Features: []string{
			"Everything in Professional",
			"Unlimited downloads",
			"Unlimited API access",
			"Team management",
			"Dedicated support",
		},
		Limits: Limits{
			Searches:           Unlimited,
			Downloads:          Unlimited,
			APICalls:           Unlimited,
			SavedNotebooks:     Unlimited,
			SubmittedNotebooks: Unlimited,
			PremiumContent:     true,
		},
	},
}

// Plans returns the catalog in display order.
func Plans() []Plan {
	plans := make([]Plan, len(catalog))
	copy(plans, catalog)
	return plans
}

// GetPlan looks up a plan by id.
func GetPlan(id string) (Plan, error) {
	for _, p := range catalog {
		if string(p.ID) == id {
			return p, nil
		}
	}
	return Plan{}, InvalidPlan("plan.get", id)
}

// PlanOrFree returns the plan for id, or the free plan if id is unknown.
func PlanOrFree(id PlanID) Plan {
	p, err := GetPlan(string(id))
	if err != nil {
		return catalog[0]
	}
	return p
}
