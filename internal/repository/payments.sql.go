package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const upsertPayment = `-- name: UpsertPayment :exec
INSERT INTO payments (id, user_id, provider_object_id, stripe_subscription_id, amount_cents, currency, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8::timestamptz, NOW()))
ON CONFLICT (provider_object_id) DO UPDATE SET
    status = EXCLUDED.status,
    amount_cents = EXCLUDED.amount_cents
`

type UpsertPaymentParams struct {
	ID                   uuid.UUID
	UserID               string
	ProviderObjectID     string
	StripeSubscriptionID sql.NullString
	AmountCents          int64
	Currency             string
	Status               string
	CreatedAt            sql.NullTime
}

func (q *Queries) UpsertPayment(ctx context.Context, arg UpsertPaymentParams) error {
	_, err := q.db.ExecContext(ctx, upsertPayment,
		arg.ID,
		arg.UserID,
		arg.ProviderObjectID,
		arg.StripeSubscriptionID,
		arg.AmountCents,
		arg.Currency,
		arg.Status,
		arg.CreatedAt,
	)
	return err
}

const listPaymentsByUser = `-- name: ListPaymentsByUser :many
SELECT id, user_id, provider_object_id, stripe_subscription_id, amount_cents, currency, status, created_at
FROM payments
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`

type ListPaymentsByUserParams struct {
	UserID string
	Limit  int32
}

func (q *Queries) ListPaymentsByUser(ctx context.Context, arg ListPaymentsByUserParams) ([]Payment, error) {
	rows, err := q.db.QueryContext(ctx, listPaymentsByUser, arg.UserID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Payment
	for rows.Next() {
		var i Payment
		if err := rows.Scan(
			&i.ID,
			&i.UserID,
			&i.ProviderObjectID,
			&i.StripeSubscriptionID,
			&i.AmountCents,
			&i.Currency,
			&i.Status,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
