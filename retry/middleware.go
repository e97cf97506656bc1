// Package retry provides bounded exponential backoff for optimistic concurrency
// cycles: read, compute, conditional write, and on conflict try again.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Strategy defines the retry behavior of an optimistic concurrency cycle.
//
// The retry schedule follows: delay = min(BaseDelay * ExponentialBase^attempt, MaxDelay)
//
// Example with DefaultStrategy (10ms base, 2.0 exponential, 500ms max):
//
//	Attempt 1: 20ms
//	Attempt 2: 40ms
//	Attempt 3: 80ms
//	Attempt 4: 160ms (last attempt)
type Strategy struct {
	MaxAttempts     int           // Maximum attempts including the first one
	BaseDelay       time.Duration // Initial retry delay
	MaxDelay        time.Duration // Maximum retry delay cap
	ExponentialBase float64       // Backoff multiplier (e.g., 2.0 for doubling)
}

// DefaultStrategy returns the strategy used by the peek cycle: five attempts,
// 10ms→500ms exponential backoff.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxAttempts:     5,
		BaseDelay:       10 * time.Millisecond,
		MaxDelay:        500 * time.Millisecond,
		ExponentialBase: 2.0,
	}
}

// AllocationStrategy returns the strategy used for sequence counter increments.
// Counter rows are hot, so it retries more often with shorter delays.
func AllocationStrategy() Strategy {
	return Strategy{
		MaxAttempts:     10,
		BaseDelay:       2 * time.Millisecond,
		MaxDelay:        100 * time.Millisecond,
		ExponentialBase: 2.0,
	}
}

// CalculateRetryDelay calculates the retry delay for a given attempt using exponential backoff.
// Formula: delay = min(BaseDelay * ExponentialBase^attemptNumber, MaxDelay)
func (s Strategy) CalculateRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber <= 0 {
		return s.BaseDelay
	}

	delay := float64(s.BaseDelay) * math.Pow(s.ExponentialBase, float64(attemptNumber))

	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}

	return time.Duration(delay)
}

// IsRetryable checks if another attempt is allowed after attemptCount attempts.
func (s Strategy) IsRetryable(attemptCount int) bool {
	return attemptCount < s.MaxAttempts
}

// GetRetrySchedule returns a human-readable description of the retry schedule.
//
// Example output:
//
//	Retry Schedule:
//	  Attempt 1: immediately
//	  Attempt 2: after 20ms
//	  ...
func (s Strategy) GetRetrySchedule() string {
	schedule := "Retry Schedule:\n"
	for i := 1; i <= s.MaxAttempts; i++ {
		if i == 1 {
			schedule += "  Attempt 1: immediately\n"
			continue
		}
		schedule += fmt.Sprintf("  Attempt %d: after %v\n", i, s.CalculateRetryDelay(i-1))
	}
	return schedule
}

// Operation is one attempt of a retried cycle. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// ExhaustedError is returned by Do when every allowed attempt failed with a
// retryable error. It wraps the last error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the error of the last attempt.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err came from a Do call that ran out of attempts.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// Do runs op until it succeeds, fails with an error shouldRetry rejects, or
// MaxAttempts attempts were made. Between attempts it waits the backoff delay;
// cancelling ctx stops the loop with ctx's error.
func (s Strategy) Do(ctx context.Context, shouldRetry func(error) bool, op Operation) error {
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = op(ctx, attempt); err == nil {
			return nil
		}
		if !shouldRetry(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(s.CalculateRetryDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &ExhaustedError{Attempts: maxAttempts, Err: err}
}
