/*
Package jobqueue configuration - tunable parameters for the River redelivery queue.

## Quick Configuration Reference:

### Performance Tuning:
- Increase MaxWorkers for more concurrent redeliveries
- Lower MaxAttempts to give up on unreachable contacts sooner

### Reliability Tuning:
- Adjust RetryPolicy intervals for provider outage patterns
- JobTimeout bounds a single redelivery attempt, send included

## Database Requirements:
- PostgreSQL with River schema migrations applied (`omnirouter migrate up`)
- Failed jobs retain error information in the River jobs table
*/
package jobqueue

import (
	"math"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	Enabled bool `koanf:"enabled"`

	// Worker Configuration
	MaxWorkers int `koanf:"max_workers"` // Concurrent redelivery workers (default: 4)

	// Retry Configuration
	MaxAttempts int           `koanf:"max_attempts"` // Attempts per undelivered reply, first one included (default: 5)
	RetryPolicy RetryPolicy   `koanf:"retry"`
	JobTimeout  time.Duration `koanf:"job_timeout"` // Maximum time a single attempt can run (default: 1 minute)
}

// RetryPolicy defines how failed redeliveries are spaced
type RetryPolicy struct {
	InitialInterval time.Duration `koanf:"initial_interval"` // default: 30 seconds
	MaxInterval     time.Duration `koanf:"max_interval"`     // default: 30 minutes
	Multiplier      float64       `koanf:"multiplier"`       // default: 2.0 (exponential backoff)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Enabled:     false,
		MaxWorkers:  4,
		MaxAttempts: 5,
		RetryPolicy: RetryPolicy{
			InitialInterval: 30 * time.Second,
			MaxInterval:     30 * time.Minute,
			Multiplier:      2.0,
		},
		JobTimeout: time.Minute,
	}
}

// withDefaults fills zero values from DefaultQueueConfig.
func (c QueueConfig) withDefaults() QueueConfig {
	d := DefaultQueueConfig()
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = d.MaxWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.RetryPolicy.InitialInterval <= 0 {
		c.RetryPolicy.InitialInterval = d.RetryPolicy.InitialInterval
	}
	if c.RetryPolicy.MaxInterval <= 0 {
		c.RetryPolicy.MaxInterval = d.RetryPolicy.MaxInterval
	}
	if c.RetryPolicy.Multiplier < 1 {
		c.RetryPolicy.Multiplier = d.RetryPolicy.Multiplier
	}
	return c
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}

// Interval returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Interval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	interval := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))
	if interval > float64(p.MaxInterval) || math.IsInf(interval, 0) {
		return p.MaxInterval
	}
	return time.Duration(interval)
}

// NextRetry implements river.ClientRetryPolicy.
func (p RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	from := time.Now()
	if job.AttemptedAt != nil {
		from = *job.AttemptedAt
	}
	return from.Add(p.Interval(job.Attempt))
}
