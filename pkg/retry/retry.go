// Package retry runs operations again after retryable failures, sleeping between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"k8s.io/utils/clock"
)

// Operation represents a function that can be retried
type Operation func(ctx context.Context) error

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts including the initial attempt
	MaxAttempts int

	// Backoff returns the pause taken after the failed attempt with the given zero-based index
	Backoff func(attempt int) time.Duration

	// Sleep performs the pause. Defaults to Sleep.
	Sleep SleepFunc

	// OnRetry is called after each failed attempt that will be retried
	OnRetry func(attempt int, err error)
}

// Linear pauses attempt*step after each failure: 0, step, 2*step...
func Linear(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// Exponential pauses initial*multiplier^attempt, capped at max, plus up to jitter.
func Exponential(initial, max time.Duration, multiplier float64, jitter time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		delay := float64(initial) * math.Pow(multiplier, float64(attempt))
		if delay > float64(max) {
			delay = float64(max)
		}
		if jitter > 0 {
			delay += float64(jitter) * rand.Float64()
		}
		return time.Duration(delay)
	}
}

// DefaultConfig returns the configuration used for inventory API calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     Exponential(100*time.Millisecond, 5*time.Second, 2.0, 100*time.Millisecond),
	}
}

// SessionConfig returns the vendor session policy: five attempts, linear one second steps.
func SessionConfig() Config {
	return Config{
		MaxAttempts: 5,
		Backoff:     Linear(time.Second),
	}
}

// Sleep waits for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs op until it succeeds, returns a non-retryable error or runs out of attempts.
// The error of the last attempt is returned unchanged so callers can inspect its type.
func Do(ctx context.Context, op Operation, cfg Config) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("operation cancelled: %w", err)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}
		var delay time.Duration
		if cfg.Backoff != nil {
			delay = cfg.Backoff(attempt)
		}
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("operation cancelled during backoff: %w", err)
		}
	}

	return lastErr
}

// RetryableError is an error that can be retried
type RetryableError struct {
	err error
}

// Error implements the error interface
func (e *RetryableError) Error() string {
	return e.err.Error()
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.err
}

// NewRetryableError wraps an error as retryable
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{err: err}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// SleepOn returns a SleepFunc that waits on c. Fake clocks advance instantly.
func SleepOn(c clock.Clock) SleepFunc {
	if c == nil {
		return Sleep
	}
	if _, ok := c.(clock.RealClock); ok {
		return Sleep
	}
	return func(ctx context.Context, d time.Duration) error {
		c.Sleep(d)
		return ctx.Err()
	}
}
