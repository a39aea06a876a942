// Package maintenance runs periodic housekeeping on a cron schedule:
// pruning processed webhook ids, finished jobs and expired usage events,
// and requeueing jobs abandoned by a crashed worker.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes rows older than a cutoff. *repository.Queries implements it.
type Pruner interface {
	DeleteProcessedWebhookEventsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteCompletedJobsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteUsageEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

// JobRecoverer requeues stale jobs. *worker.Worker implements it.
type JobRecoverer interface {
	RecoverStaleJobs(ctx context.Context) error
}

// Config configures the maintenance scheduler.
type Config struct {
	// Schedule is a standard 5-field cron expression (UTC).
	Schedule string

	// EventRetention is how long processed webhook event ids are kept.
	// It must exceed Stripe's retry window (3 days) for duplicates to be caught.
	EventRetention time.Duration

	// JobRetention is how long completed jobs are kept.
	JobRetention time.Duration

	// UsageRetention is how long usage events are kept. It must exceed the
	// longest billing period.
	UsageRetention time.Duration

	// Timeout bounds one maintenance run.
	Timeout time.Duration
}

// DefaultConfig returns the default maintenance configuration.
func DefaultConfig() Config {
	return Config{
		Schedule:       "0 * * * *",
		EventRetention: 30 * 24 * time.Hour,
		JobRetention:   7 * 24 * time.Hour,
		UsageRetention: 400 * 24 * time.Hour,
		Timeout:        5 * time.Minute,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.EventRetention < 72*time.Hour {
		return errors.New("event retention must be at least 72h")
	}
	if c.JobRetention <= 0 {
		return errors.New("job retention must be positive")
	}
	if c.UsageRetention < 31*24*time.Hour {
		return errors.New("usage retention must be at least 31 days")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

// Result summarizes one maintenance run.
type Result struct {
	WebhookEventsPruned int64
	JobsPruned          int64
	UsageEventsPruned   int64
}

// Scheduler runs maintenance on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	config    Config
	pruner    Pruner
	recoverer JobRecoverer
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Scheduler. recoverer may be nil when no worker runs.
func New(cfg Config, pruner Pruner, recoverer JobRecoverer, logger *slog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Scheduler{
		config:    cfg,
		pruner:    pruner,
		recoverer: recoverer,
		logger:    logger,
		now:       time.Now,
	}

	cronLogger := slogAdapter{logger: logger}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	if _, err := s.cron.AddFunc(cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}

	return s, nil
}

// Start begins running maintenance on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Maintenance scheduler started", "schedule", s.config.Schedule)
}

// Stop stops the scheduler and waits for a running job to finish or for
// ctx to be done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Maintenance scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one maintenance pass. Steps are independent: a failure is
// logged and the remaining steps still run.
func (s *Scheduler) RunOnce(ctx context.Context) Result {
	var res Result
	now := s.now().UTC()

	if s.recoverer != nil {
		if err := s.recoverer.RecoverStaleJobs(ctx); err != nil {
			s.logger.Error("Failed to recover stale jobs", "error", err)
		}
	}

	var err error
	if res.WebhookEventsPruned, err = s.pruner.DeleteProcessedWebhookEventsBefore(ctx, now.Add(-s.config.EventRetention)); err != nil {
		s.logger.Error("Failed to prune processed webhook events", "error", err)
	}
	if res.JobsPruned, err = s.pruner.DeleteCompletedJobsBefore(ctx, now.Add(-s.config.JobRetention)); err != nil {
		s.logger.Error("Failed to prune completed jobs", "error", err)
	}
	if res.UsageEventsPruned, err = s.pruner.DeleteUsageEventsBefore(ctx, now.Add(-s.config.UsageRetention)); err != nil {
		s.logger.Error("Failed to prune usage events", "error", err)
	}

	s.logger.Info("Maintenance completed",
		"webhook_events_pruned", res.WebhookEventsPruned,
		"jobs_pruned", res.JobsPruned,
		"usage_events_pruned", res.UsageEventsPruned,
	)
	return res
}

// slogAdapter implements cron.Logger on top of slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug("cron: "+msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
