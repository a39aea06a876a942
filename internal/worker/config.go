package worker

import (
	"errors"
	"fmt"
	"time"
)

// Config tunes the job poller. The queue only carries webhook
// reconciliation, which touches the database and nothing slower, so the
// defaults favor short timeouts over throughput.
type Config struct {
	Concurrency       int           // polling goroutines
	PollInterval      time.Duration // idle wait between queue checks
	JobTimeout        time.Duration // per-attempt deadline passed to the handler
	ShutdownTimeout   time.Duration // how long Stop waits for running jobs
	StaleJobThreshold time.Duration // 'running' longer than this is treated as abandoned
}

func DefaultConfig() Config {
	return Config{
		Concurrency:       1,
		PollInterval:      10 * time.Second,
		JobTimeout:        time.Minute,
		ShutdownTimeout:   30 * time.Second,
		StaleJobThreshold: 10 * time.Minute,
	}
}

const maxConcurrency = 100

// Validate reports every out-of-range field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.Concurrency > maxConcurrency {
		errs = append(errs, fmt.Errorf("concurrency too high (max %d), got %d", maxConcurrency, c.Concurrency))
	}
	for _, d := range []struct {
		name string
		got  time.Duration
		min  time.Duration
	}{
		{"poll interval", c.PollInterval, time.Second},
		{"job timeout", c.JobTimeout, time.Second},
		{"shutdown timeout", c.ShutdownTimeout, time.Second},
		{"stale job threshold", c.StaleJobThreshold, time.Minute},
	} {
		if d.got < d.min {
			errs = append(errs, fmt.Errorf("%s must be at least %v, got %v", d.name, d.min, d.got))
		}
	}
	return errors.Join(errs...)
}
