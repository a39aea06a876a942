package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeadLetter is a webhook event parked for reconciliation because its
// subscriber could not be resolved when it was delivered.
type DeadLetter struct {
	ID          uuid.UUID `json:"id"`
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Reason      string    `json:"reason"`
	Status      string    `json:"status"`
	Attempts    int32     `json:"attempts"`
	MaxAttempts int32     `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
