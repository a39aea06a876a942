package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const insertUsageEvent = `-- name: InsertUsageEvent :exec
INSERT INTO usage_events (id, user_id, activity_type, metadata, ip_address, user_agent)
VALUES ($1, $2, $3, $4, $5, $6)
`

type InsertUsageEventParams struct {
	ID           uuid.UUID
	UserID       string
	ActivityType string
	Metadata     pqtype.NullRawMessage
	IpAddress    sql.NullString
	UserAgent    sql.NullString
}

func (q *Queries) InsertUsageEvent(ctx context.Context, arg InsertUsageEventParams) error {
	_, err := q.db.ExecContext(ctx, insertUsageEvent,
		arg.ID,
		arg.UserID,
		arg.ActivityType,
		arg.Metadata,
		arg.IpAddress,
		arg.UserAgent,
	)
	return err
}

const countUsageEvents = `-- name: CountUsageEvents :one
SELECT COUNT(*)
FROM usage_events
WHERE user_id = $1
  AND activity_type = $2
  AND created_at >= $3
`

type CountUsageEventsParams struct {
	UserID       string
	ActivityType string
	Since        time.Time
}

func (q *Queries) CountUsageEvents(ctx context.Context, arg CountUsageEventsParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, countUsageEvents, arg.UserID, arg.ActivityType, arg.Since)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const countUsageEventsByType = `-- name: CountUsageEventsByType :many
SELECT activity_type, COUNT(*)
FROM usage_events
WHERE user_id = $1
  AND created_at >= $2
  AND activity_type = ANY($3::text[])
GROUP BY activity_type
`

type CountUsageEventsByTypeParams struct {
	UserID        string
	Since         time.Time
	ActivityTypes []string
}

type CountUsageEventsByTypeRow struct {
	ActivityType string
	Count        int64
}

func (q *Queries) CountUsageEventsByType(ctx context.Context, arg CountUsageEventsByTypeParams) ([]CountUsageEventsByTypeRow, error) {
	rows, err := q.db.QueryContext(ctx, countUsageEventsByType, arg.UserID, arg.Since, pq.Array(arg.ActivityTypes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CountUsageEventsByTypeRow
	for rows.Next() {
		var i CountUsageEventsByTypeRow
		if err := rows.Scan(&i.ActivityType, &i.Count); err != nil {
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

const deleteUsageEventsBefore = `-- name: DeleteUsageEventsBefore :execrows
DELETE FROM usage_events
WHERE created_at < $1
`

func (q *Queries) DeleteUsageEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteUsageEventsBefore, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
