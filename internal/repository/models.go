package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type Job struct {
	ID           uuid.UUID
	JobType      string
	Payload      json.RawMessage
	Status       string
	Priority     int32
	Attempts     int32
	MaxAttempts  int32
	ErrorMessage sql.NullString
	ScheduledAt  time.Time
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
	CreatedAt    time.Time
}

type Payment struct {
	ID                   uuid.UUID
	UserID               string
	ProviderObjectID     string
	StripeSubscriptionID sql.NullString
	AmountCents          int64
	Currency             string
	Status               string
	CreatedAt            time.Time
}

type ProcessedWebhookEvent struct {
	EventID     string
	EventType   string
	EventAt     time.Time
	ProcessedAt time.Time
}

type Profile struct {
	UserID           string
	SubscriptionTier string
	StripeCustomerID sql.NullString
	UpdatedAt        time.Time
}

type Subscription struct {
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
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type UsageEvent struct {
	ID           uuid.UUID
	UserID       string
	ActivityType string
	Metadata     pqtype.NullRawMessage
	IpAddress    sql.NullString
	UserAgent    sql.NullString
	CreatedAt    time.Time
}
