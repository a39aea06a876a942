package repository

import (
	"context"
	"database/sql"
	"time"
)

const subscriptionColumns = `user_id, plan_id, status, current_period_start, current_period_end, cancel_at_period_end,
    stripe_customer_id, stripe_subscription_id, last_event_id, last_event_at, created_at, updated_at`

func scanSubscription(row interface{ Scan(...interface{}) error }) (Subscription, error) {
	var i Subscription
	err := row.Scan(
		&i.UserID,
		&i.PlanID,
		&i.Status,
		&i.CurrentPeriodStart,
		&i.CurrentPeriodEnd,
		&i.CancelAtPeriodEnd,
		&i.StripeCustomerID,
		&i.StripeSubscriptionID,
		&i.LastEventID,
		&i.LastEventAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getSubscription = `-- name: GetSubscription :one
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE user_id = $1
`

func (q *Queries) GetSubscription(ctx context.Context, userID string) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, getSubscription, userID)
	return scanSubscription(row)
}

const getSubscriptionByStripeSubscriptionID = `-- name: GetSubscriptionByStripeSubscriptionID :one
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE stripe_subscription_id = $1
`

func (q *Queries) GetSubscriptionByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, getSubscriptionByStripeSubscriptionID, stripeSubscriptionID)
	return scanSubscription(row)
}

const getSubscriptionByStripeCustomerID = `-- name: GetSubscriptionByStripeCustomerID :one
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE stripe_customer_id = $1
ORDER BY updated_at DESC
LIMIT 1
`

func (q *Queries) GetSubscriptionByStripeCustomerID(ctx context.Context, stripeCustomerID string) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, getSubscriptionByStripeCustomerID, stripeCustomerID)
	return scanSubscription(row)
}

// The WHERE clause on the conflict branch rejects changes older than the
// stored last_event_at; a rejected upsert returns sql.ErrNoRows.
const upsertSubscription = `-- name: UpsertSubscription :one
INSERT INTO subscriptions (
    user_id, plan_id, status, current_period_start, current_period_end, cancel_at_period_end,
    stripe_customer_id, stripe_subscription_id, last_event_id, last_event_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
)
ON CONFLICT (user_id) DO UPDATE SET
    plan_id = EXCLUDED.plan_id,
    status = EXCLUDED.status,
    current_period_start = EXCLUDED.current_period_start,
    current_period_end = EXCLUDED.current_period_end,
    cancel_at_period_end = EXCLUDED.cancel_at_period_end,
    stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscriptions.stripe_customer_id),
    stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, subscriptions.stripe_subscription_id),
    last_event_id = COALESCE(EXCLUDED.last_event_id, subscriptions.last_event_id),
    last_event_at = COALESCE(EXCLUDED.last_event_at, subscriptions.last_event_at),
    updated_at = NOW()
WHERE subscriptions.last_event_at IS NULL
   OR EXCLUDED.last_event_at IS NULL
   OR subscriptions.last_event_at <= EXCLUDED.last_event_at
RETURNING ` + subscriptionColumns + `
`

type UpsertSubscriptionParams struct {
	UserID               string
	PlanID               string
	Status               string
	CurrentPeriodStart   time.Time
	CurrentPeriodEnd     time.Time
	CancelAtPeriodEnd    bool
	StripeCustomerID     sql.NullString
	StripeSubscriptionID sql.NullString
	LastEventID          sql.NullString
	LastEventAt          sql.NullTime
}

func (q *Queries) UpsertSubscription(ctx context.Context, arg UpsertSubscriptionParams) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, upsertSubscription,
		arg.UserID,
		arg.PlanID,
		arg.Status,
		arg.CurrentPeriodStart,
		arg.CurrentPeriodEnd,
		arg.CancelAtPeriodEnd,
		arg.StripeCustomerID,
		arg.StripeSubscriptionID,
		arg.LastEventID,
		arg.LastEventAt,
	)
	return scanSubscription(row)
}

const setCancelAtPeriodEnd = `-- name: SetCancelAtPeriodEnd :one
UPDATE subscriptions
SET cancel_at_period_end = $2, updated_at = NOW()
WHERE user_id = $1
RETURNING ` + subscriptionColumns + `
`

type SetCancelAtPeriodEndParams struct {
	UserID            string
	CancelAtPeriodEnd bool
}

func (q *Queries) SetCancelAtPeriodEnd(ctx context.Context, arg SetCancelAtPeriodEndParams) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, setCancelAtPeriodEnd, arg.UserID, arg.CancelAtPeriodEnd)
	return scanSubscription(row)
}

const upsertProfileTier = `-- name: UpsertProfileTier :exec
INSERT INTO profiles (user_id, subscription_tier, stripe_customer_id)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET
    subscription_tier = EXCLUDED.subscription_tier,
    stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, profiles.stripe_customer_id),
    updated_at = NOW()
`

type UpsertProfileTierParams struct {
	UserID           string
	SubscriptionTier string
	StripeCustomerID sql.NullString
}

func (q *Queries) UpsertProfileTier(ctx context.Context, arg UpsertProfileTierParams) error {
	_, err := q.db.ExecContext(ctx, upsertProfileTier, arg.UserID, arg.SubscriptionTier, arg.StripeCustomerID)
	return err
}

const getProfileByStripeCustomerID = `-- name: GetProfileByStripeCustomerID :one
SELECT user_id, subscription_tier, stripe_customer_id, updated_at
FROM profiles
WHERE stripe_customer_id = $1
LIMIT 1
`

func (q *Queries) GetProfileByStripeCustomerID(ctx context.Context, stripeCustomerID string) (Profile, error) {
	row := q.db.QueryRowContext(ctx, getProfileByStripeCustomerID, stripeCustomerID)
	var i Profile
	err := row.Scan(
		&i.UserID,
		&i.SubscriptionTier,
		&i.StripeCustomerID,
		&i.UpdatedAt,
	)
	return i, err
}
