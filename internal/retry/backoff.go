package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/omnirouter/internal/logging"
)

// ErrRetriesExhausted is matched by the error returned once every attempt has failed.
var ErrRetriesExhausted = errors.New("retry attempts exhausted")

// Config configures retry behavior with attempt-scaled linear backoff
type Config struct {
	MaxRetries        int           `koanf:"max_retries" json:"max_retries"`               // Attempt ceiling, first attempt included (default: 3)
	RetryDelay        time.Duration `koanf:"retry_delay" json:"retry_delay_ms"`            // Base delay, multiplied by the attempt number (default: 500ms)
	RetryableStatuses []int         `koanf:"retryable_statuses" json:"retryable_statuses"` // HTTP statuses worth another attempt
	SkipRetry         bool          `koanf:"skip_retry" json:"skip_retry"`                 // Force exactly one attempt
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		RetryDelay:        500 * time.Millisecond,
		RetryableStatuses: []int{408, 429, 500, 502, 503, 504},
	}
}

// HTTPError is a non-2xx response from a remote endpoint.
type HTTPError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// ExhaustedError is returned when the attempt ceiling is reached.
type ExhaustedError struct {
	Attempts int
	Endpoint string
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts to %s: %v", ErrRetriesExhausted, e.Attempts, e.Endpoint, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}

// Operation is a single attempt. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// IsRetryable reports whether err deserves another attempt under cfg. HTTP failures are
// retryable only for the configured statuses (and any 5xx); errors without an HTTP status
// (network failures, timeouts) are always retryable.
func (c Config) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return true
	}
	if httpErr.StatusCode >= 500 && httpErr.StatusCode <= 599 {
		return true
	}
	for _, status := range c.RetryableStatuses {
		if status == httpErr.StatusCode {
			return true
		}
	}
	return false
}

// Delay returns the wait before the attempt following the given one.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return c.RetryDelay * time.Duration(attempt)
}

func (c Config) attempts() int {
	if c.SkipRetry || c.MaxRetries < 1 {
		return 1
	}
	return c.MaxRetries
}

// RetryWithBackoff runs op until it succeeds, fails with a non-retryable error, or the
// attempt ceiling is reached. Every retry emits one warning carrying the attempt number and
// endpoint.
func RetryWithBackoff(ctx context.Context, cfg Config, endpoint string, logger logging.Logger, op Operation) error {
	logger = logging.OrNop(logger)
	maxAttempts := cfg.attempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				logger.Debug().Int("attempt", attempt).Str("endpoint", endpoint).Msg("request succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if cfg.SkipRetry {
			return err
		}
		if !cfg.IsRetryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Str("endpoint", endpoint).
			Dur("delay", delay).
			Msg("request failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &ExhaustedError{Attempts: maxAttempts, Endpoint: endpoint, Last: lastErr}
}
