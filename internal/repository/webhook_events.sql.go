package repository

import (
	"context"
	"time"
)

const processedWebhookEventExists = `-- name: ProcessedWebhookEventExists :one
SELECT EXISTS (
    SELECT 1 FROM processed_webhook_events WHERE event_id = $1
)
`

func (q *Queries) ProcessedWebhookEventExists(ctx context.Context, eventID string) (bool, error) {
	row := q.db.QueryRowContext(ctx, processedWebhookEventExists, eventID)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const insertProcessedWebhookEvent = `-- name: InsertProcessedWebhookEvent :exec
INSERT INTO processed_webhook_events (event_id, event_type, event_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_id) DO NOTHING
`

type InsertProcessedWebhookEventParams struct {
	EventID   string
	EventType string
	EventAt   time.Time
}

func (q *Queries) InsertProcessedWebhookEvent(ctx context.Context, arg InsertProcessedWebhookEventParams) error {
	_, err := q.db.ExecContext(ctx, insertProcessedWebhookEvent, arg.EventID, arg.EventType, arg.EventAt)
	return err
}

const deleteProcessedWebhookEventsBefore = `-- name: DeleteProcessedWebhookEventsBefore :execrows
DELETE FROM processed_webhook_events
WHERE processed_at < $1
`

func (q *Queries) DeleteProcessedWebhookEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteProcessedWebhookEventsBefore, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
