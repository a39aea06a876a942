package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/metrics"
	"github.com/DukeRupert/notebookdir/internal/repository"
)

// Worker polls the jobs table and runs registered handlers. Several
// processes may share one table: dequeue uses FOR UPDATE SKIP LOCKED.
type Worker struct {
	db       *sql.DB
	queries  *repository.Queries
	handlers map[string]JobHandler
	config   Config
	logger   *slog.Logger

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New validates config and returns an idle Worker. Register handlers, then Start.
func New(db *sql.DB, queries *repository.Queries, config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		db:       db,
		queries:  queries,
		handlers: make(map[string]JobHandler),
		config:   config,
		logger:   logger.With("component", "worker"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Register adds handler under handler.Type(), replacing any previous one.
func (w *Worker) Register(handler JobHandler) {
	jobType := handler.Type()
	if _, exists := w.handlers[jobType]; exists {
		w.logger.Warn("Replacing job handler", "job_type", jobType)
	}
	w.handlers[jobType] = handler
}

// Start recovers jobs abandoned by a previous process and launches the
// polling goroutines. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	if err := w.RecoverStaleJobs(ctx); err != nil {
		w.logger.Error("Failed to recover stale jobs", "error", err)
	}

	for id := 1; id <= w.config.Concurrency; id++ {
		w.wg.Add(1)
		go w.poll(ctx, id)
	}

	w.logger.Info("Worker started",
		"concurrency", w.config.Concurrency,
		"poll_interval", w.config.PollInterval,
		"job_types", len(w.handlers),
	)
}

// Stop signals the pollers and waits up to ShutdownTimeout for running jobs.
// Calling it more than once is safe.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timed out with jobs still running", "timeout", w.config.ShutdownTimeout)
	}
}

// RecoverStaleJobs returns jobs stuck in 'running' longer than
// StaleJobThreshold to 'pending'. Called on Start and by the maintenance
// schedule.
func (w *Worker) RecoverStaleJobs(ctx context.Context) error {
	count, err := w.queries.RecoverStaleJobs(ctx, w.config.StaleJobThreshold.Seconds())
	if err != nil {
		return fmt.Errorf("recover stale jobs: %w", err)
	}
	if count > 0 {
		w.logger.Warn("Recovered stale jobs", "count", count, "threshold", w.config.StaleJobThreshold)
	}
	return nil
}

func (w *Worker) poll(ctx context.Context, id int) {
	defer w.wg.Done()

	logger := w.logger.With("poller", id)
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain whatever is due before waiting for the next tick.
			for {
				ran, err := w.RunOnce(ctx)
				if err != nil {
					logger.Error("Job processing failed", "error", err)
				}
				if !ran || w.stopping(ctx) {
					break
				}
			}
		}
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-w.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// RunOnce claims and runs at most one due job. ran is false when the queue
// had nothing due. A handler failure is recorded on the job and returned.
func (w *Worker) RunOnce(ctx context.Context) (ran bool, err error) {
	job, err := w.claim(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	logger := w.logger.With("job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts+1, "max_attempts", job.MaxAttempts)
	logger.Info("Running job")

	start := time.Now()
	runErr := w.executeJob(ctx, job, logger)
	if runErr == nil {
		metrics.JobCompleted(job.JobType, time.Since(start))
		if err := w.queries.UpdateJobCompleted(ctx, job.ID); err != nil {
			return true, fmt.Errorf("mark job %s completed: %w", job.ID, err)
		}
		logger.Info("Job completed", "duration", time.Since(start))
		return true, nil
	}

	permanent := isPermanentFailure(runErr)
	exhausted := job.Attempts+1 >= job.MaxAttempts
	metrics.JobFailed(job.JobType)

	switch {
	case permanent:
		logger.Error("Job failed permanently", "error", runErr)
	case exhausted:
		logger.Error("Job exhausted its attempts and is parked for manual reconciliation", "error", runErr)
	default:
		metrics.JobRetried(job.JobType)
		logger.Warn("Job failed, will retry", "error", runErr)
	}

	if err := w.queries.UpdateJobFailed(ctx, repository.UpdateJobFailedParams{
		ID:           job.ID,
		ErrorMessage: sql.NullString{String: runErr.Error(), Valid: true},
		Permanent:    permanent,
	}); err != nil {
		logger.Error("Failed to record job failure", "error", err)
	}
	return true, fmt.Errorf("job %s: %w", job.ID, runErr)
}

// claim dequeues the next due job and marks it running in one transaction.
func (w *Worker) claim(ctx context.Context) (repository.Job, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return repository.Job{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := w.queries.WithTx(tx)

	job, err := qtx.DequeueJob(ctx)
	if err != nil {
		return repository.Job{}, err
	}
	if err := qtx.UpdateJobStarted(ctx, job.ID); err != nil {
		return repository.Job{}, fmt.Errorf("mark job started: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return repository.Job{}, fmt.Errorf("commit dequeue: %w", err)
	}
	return job, nil
}

func (w *Worker) executeJob(ctx context.Context, job repository.Job, logger *slog.Logger) error {
	handler, ok := w.handlers[job.JobType]
	if !ok {
		return NewPermanentError(fmt.Errorf("no handler registered for job type %q", job.JobType))
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	logger.Debug("Dispatching job", "payload_bytes", len(job.Payload))
	return handler.Handle(jobCtx, job.Payload)
}

// isPermanentFailure reports whether another attempt cannot change the
// outcome: explicit PermanentErrors and domain errors that reject the
// input itself.
func isPermanentFailure(err error) bool {
	if IsPermanent(err) {
		return true
	}
	switch domain.ErrorCode(err) {
	case domain.EINVALID, domain.EPLAN, domain.ESIGNATURE:
		return true
	}
	return false
}
