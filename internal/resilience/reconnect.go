package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ReconnectConfig bounds how a dropped connection is re-established.
type ReconnectConfig struct {
	MaxAttempts int
	Backoff     time.Duration // wait after the first failed attempt
	Multiplier  float64
	MaxBackoff  time.Duration
	Jitter      bool
	Logger      *zerolog.Logger
}

// DefaultReconnectConfig returns 5 attempts starting at 1s, doubling up to 30s.
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     1 * time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// ReconnectFunc dials once.
type ReconnectFunc func(ctx context.Context) error

// Reconnect calls fn until it succeeds, the attempts run out or ctx ends.
// Every dial error is treated as transient.
func Reconnect(ctx context.Context, fn ReconnectFunc, config *ReconnectConfig) error {
	if config == nil {
		config = DefaultReconnectConfig()
	}
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}

	retry := &RetryConfig{
		MaxAttempts:       config.MaxAttempts,
		InitialBackoff:    config.Backoff,
		MaxBackoff:        config.MaxBackoff,
		BackoffMultiplier: config.Multiplier,
		Strategy:          BackoffExponential,
		Jitter:            config.Jitter,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", config.MaxAttempts).
				Dur("backoff", delay).
				Msg("Reconnection attempt failed")
		},
	}

	var attempts int
	err := Retry(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		return fn(ctx)
	}, retry, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to reconnect: %w", err)
	}

	logger.Info().Int("attempt", attempts).Msg("Reconnection successful")
	return nil
}
