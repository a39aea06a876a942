package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DukeRupert/notebookdir/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEnqueuer struct {
	EnqueueJobFunc func(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error)
}

func (m *mockEnqueuer) EnqueueJob(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error) {
	return m.EnqueueJobFunc(ctx, arg)
}

func TestEnqueueJob_AppliesOptions(t *testing.T) {
	var got repository.EnqueueJobParams
	m := &mockEnqueuer{
		EnqueueJobFunc: func(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error) {
			got = arg
			return repository.Job{ID: arg.ID, JobType: arg.JobType}, nil
		},
	}

	before := time.Now()
	job, err := EnqueueJob(context.Background(), m, JobTypeReconcileWebhookEvent,
		map[string]string{"event_id": "evt_1"},
		WithMaxAttempts(7),
		WithPriority(PriorityHigh),
		WithDelay(time.Minute),
	)
	require.NoError(t, err)

	assert.Equal(t, got.ID, job.ID)
	assert.Equal(t, JobTypeReconcileWebhookEvent, got.JobType)
	assert.Equal(t, int32(7), got.MaxAttempts)
	assert.Equal(t, int32(PriorityHigh), got.Priority)
	assert.True(t, got.ScheduledAt.After(before.Add(59*time.Second)))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "evt_1", payload["event_id"])
}

func TestEnqueueJob_Defaults(t *testing.T) {
	var got repository.EnqueueJobParams
	m := &mockEnqueuer{
		EnqueueJobFunc: func(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error) {
			got = arg
			return repository.Job{}, nil
		},
	}

	_, err := EnqueueJob(context.Background(), m, "other", struct{}{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), got.MaxAttempts)
	assert.Equal(t, int32(PriorityNormal), got.Priority)
}

func TestEnqueueJob_Errors(t *testing.T) {
	m := &mockEnqueuer{
		EnqueueJobFunc: func(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error) {
			return repository.Job{}, errors.New("db down")
		},
	}

	_, err := EnqueueJob(context.Background(), m, "other", struct{}{})
	assert.ErrorContains(t, err, "enqueue job")

	_, err = EnqueueJob(context.Background(), m, "other", make(chan int))
	assert.ErrorContains(t, err, "marshal payload")
}
