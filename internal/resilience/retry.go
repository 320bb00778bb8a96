package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// ErrRetriesExhausted is wrapped by Retry when every attempt failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// BackoffStrategy selects how the delay grows between attempts.
type BackoffStrategy int

const (
	// BackoffExponential waits InitialBackoff * Multiplier^(attempt-1).
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear waits InitialBackoff * attempt.
	BackoffLinear
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts       int           // Total attempts including the first
	InitialBackoff    time.Duration // Delay after the first failure
	MaxBackoff        time.Duration // Upper bound for any single delay
	BackoffMultiplier float64       // Growth factor for exponential backoff
	Strategy          BackoffStrategy
	Jitter            bool // Add up to 25% random jitter

	// OnRetry, if set, is called before sleeping after a failed attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Strategy:          BackoffExponential,
		Jitter:            true,
	}
}

// RetryableFunc is one attempt. attempt starts at 1.
type RetryableFunc func(ctx context.Context, attempt int) error

// IsRetryableError reports whether err should be retried.
type IsRetryableError func(error) bool

// Retry runs fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done. Exhaustion returns an error wrapping both
// ErrRetriesExhausted and the last failure. Cancellation returns ctx.Err().
func Retry(ctx context.Context, fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt == maxAttempts {
			break
		}

		delay := config.Delay(attempt)
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}

// Delay returns the wait after the given failed attempt (1-based).
func (c *RetryConfig) Delay(attempt int) time.Duration {
	var d time.Duration
	switch c.Strategy {
	case BackoffLinear:
		d = c.InitialBackoff * time.Duration(attempt)
	default:
		mult := c.BackoffMultiplier
		if mult <= 0 {
			mult = 2.0
		}
		d = CalculateBackoff(attempt-1, c.InitialBackoff, c.MaxBackoff, mult)
	}

	if c.Jitter && d > 0 {
		d += time.Duration(rand.Int63n(int64(d)/4 + 1))
	}
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// CalculateBackoff calculates the exponential backoff duration for a given attempt
func CalculateBackoff(attempt int, initialBackoff time.Duration, maxBackoff time.Duration, multiplier float64) time.Duration {
	backoff := time.Duration(float64(initialBackoff) * math.Pow(multiplier, float64(attempt)))
	if maxBackoff > 0 && backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

// IsRetryableNetworkError checks if an error is a retryable network error
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if IsRetryable(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		// Connection errors
		"connection refused",
		"connection reset",
		"connection closed",
		"broken pipe",
		"unavailable",
		"network is unreachable",
		"no route to host",
		"not connected",
		// Timeout errors
		"deadline exceeded",
		"timeout",
		// Resource exhaustion
		"resource exhausted",
		"too many connections",
		"rate limit",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// RetryableError wraps an error to indicate it's retryable
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error is a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
