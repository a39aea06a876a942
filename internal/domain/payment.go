package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the outcome of a recorded charge.
type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Payment is a ledger entry for a checkout or invoice charge.
// ProviderObjectID is the checkout session or invoice id and is unique.
type Payment struct {
	ID                   uuid.UUID     `json:"id"`
	UserID               string        `json:"user_id"`
	ProviderObjectID     string        `json:"provider_object_id"`
	StripeSubscriptionID string        `json:"stripe_subscription_id,omitempty"`
	AmountCents          int64         `json:"amount_cents"`
	Currency             string        `json:"currency"`
	Status               PaymentStatus `json:"status"`
	CreatedAt            time.Time     `json:"created_at"`
}

// Amount converts the minor-unit amount to a decimal.
func (p Payment) Amount() decimal.Decimal {
	return decimal.New(p.AmountCents, -2)
}

// NormalizeCurrency upper-cases an ISO currency code.
func NormalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
