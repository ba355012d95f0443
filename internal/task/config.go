package task

import (
	"fmt"
	"time"

	"github.com/phrazzld/assay-api/internal/domain"
)

// Config holds the Manager settings.
type Config struct {
	// MaxRetries bounds how many times a failed token may be retried.
	MaxRetries int

	// TTL is the token lifetime. Zero makes tokens expire immediately.
	TTL time.Duration

	// CleanupInterval is the period of the expiry sweep.
	CleanupInterval time.Duration

	// CleanupBatchLimit is the maximum number of records one DeleteExpired
	// call may remove.
	CleanupBatchLimit int

	// CleanupMaxBatches bounds the number of batches in a single sweep.
	CleanupMaxBatches int

	// MaxConcurrent bounds the number of analyzer calls in flight.
	MaxConcurrent int

	// ShutdownTimeout bounds how long Shutdown waits for executions to drain.
	ShutdownTimeout time.Duration

	// AnalysisTimeout bounds a single analyzer call. Zero means no bound.
	AnalysisTimeout time.Duration

	// ExpectedDuration feeds the estimated-remaining hint in progress updates.
	ExpectedDuration time.Duration

	// ProgressPlan is the schedule every execution reports.
	ProgressPlan domain.ProgressPlan
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		TTL:               10 * time.Minute,
		CleanupInterval:   5 * time.Minute,
		CleanupBatchLimit: 100,
		CleanupMaxBatches: 10,
		MaxConcurrent:     8,
		ShutdownTimeout:   30 * time.Second,
		ExpectedDuration:  30 * time.Second,
		ProgressPlan:      domain.DefaultProgressPlan(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return fmt.Errorf("max retries cannot be negative: %d", c.MaxRetries)
	case c.TTL < 0:
		return fmt.Errorf("ttl cannot be negative: %s", c.TTL)
	case c.CleanupInterval <= 0:
		return fmt.Errorf("cleanup interval must be positive: %s", c.CleanupInterval)
	case c.CleanupBatchLimit <= 0:
		return fmt.Errorf("cleanup batch limit must be positive: %d", c.CleanupBatchLimit)
	case c.CleanupMaxBatches <= 0:
		return fmt.Errorf("cleanup max batches must be positive: %d", c.CleanupMaxBatches)
	case c.MaxConcurrent <= 0:
		return fmt.Errorf("max concurrent must be positive: %d", c.MaxConcurrent)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("shutdown timeout must be positive: %s", c.ShutdownTimeout)
	case c.AnalysisTimeout < 0:
		return fmt.Errorf("analysis timeout cannot be negative: %s", c.AnalysisTimeout)
	}
	return c.ProgressPlan.Validate()
}
