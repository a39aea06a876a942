package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DukeRupert/notebookdir/internal/repository"
	"github.com/google/uuid"
)

// JobTypeReconcileWebhookEvent retries a webhook event whose subscriber
// could not be resolved on delivery.
const JobTypeReconcileWebhookEvent = "reconcile_webhook_event"

// Higher runs first among due jobs.
const (
	PriorityLow    int32 = 0
	PriorityNormal int32 = 10
	PriorityHigh   int32 = 20
)

const defaultMaxAttempts int32 = 3

type EnqueueOption func(*repository.EnqueueJobParams)

func WithPriority(priority int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) { p.Priority = priority }
}

// WithMaxAttempts bounds retries before the job is parked as failed.
func WithMaxAttempts(attempts int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) { p.MaxAttempts = attempts }
}

// WithDelay holds the first attempt back by delay.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(p *repository.EnqueueJobParams) { p.ScheduledAt = p.ScheduledAt.Add(delay) }
}

// Enqueuer is satisfied by *repository.Queries and its transactional copy.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error)
}

// EnqueueJob stores payload as JSON under jobType, due now unless delayed.
func EnqueueJob(ctx context.Context, q Enqueuer, jobType string, payload any, opts ...EnqueueOption) (repository.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return repository.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	params := repository.EnqueueJobParams{
		ID:          uuid.New(),
		JobType:     jobType,
		Payload:     raw,
		Priority:    PriorityNormal,
		MaxAttempts: defaultMaxAttempts,
		ScheduledAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&params)
	}

	job, err := q.EnqueueJob(ctx, params)
	if err != nil {
		return repository.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}
