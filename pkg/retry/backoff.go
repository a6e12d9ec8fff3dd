// Package retry provides backoff retry logic for transient failures.
//
// Two strategies are supported through the same BackoffConfig:
//   - Exponential backoff with optional jitter (Multiplier > 1)
//   - Fixed backoff (Multiplier == 1, Jitter false), see FixedBackoffConfig
//
// # Usage
//
//	cfg := retry.FixedBackoffConfig(time.Second, 2) // 3 attempts in total
//
//	err := retry.WithRetryAdvanced(ctx, func() error {
//		err := check()
//		if err != nil && !isTransient(err) {
//			return retry.Stop(err) // give up immediately
//		}
//		return err
//	}, cfg)
//
// # Jitter
//
// With jitter enabled the actual delay is baseDelay * (0.5 + random(0, 0.5)).
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/wakegate/wakegate/logger"
)

type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
	MaxRetries      int // retries after the first attempt
	// OnRetry, when set, is called before each retry with the attempt that
	// just failed (1-based) and its error.
	OnRetry func(attempt int, err error)
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		MaxRetries:      5,
	}
}

// FixedBackoffConfig waits the same interval before every retry
func FixedBackoffConfig(interval time.Duration, maxRetries int) BackoffConfig {
	return BackoffConfig{
		InitialInterval: interval,
		MaxInterval:     interval,
		Multiplier:      1.0,
		Jitter:          false,
		MaxRetries:      maxRetries,
	}
}

func ExponentialBackoff(config BackoffConfig) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return config.InitialInterval
		}

		interval := float64(config.InitialInterval) * math.Pow(config.Multiplier, float64(attempt-1))
		if config.MaxInterval > 0 && interval > float64(config.MaxInterval) {
			interval = float64(config.MaxInterval)
		}

		duration := time.Duration(interval)
		if config.Jitter && duration > 1 {
			jitter := time.Duration(rand.Int63n(int64(duration / 2)))
			duration = duration/2 + jitter
		}
		return duration
	}
}

type RetryableFunc func() error

// WithRetry retries fn on every error until it succeeds or MaxRetries is exhausted
func WithRetry(ctx context.Context, fn RetryableFunc, config BackoffConfig) error {
	return run(ctx, fn, config, false)
}

// StopError wraps an error to indicate that retries should stop immediately
type StopError struct {
	Err error
}

func (s StopError) Error() string {
	return s.Err.Error()
}

func (s StopError) Unwrap() error {
	return s.Err
}

// Stop wraps an error to indicate that retries should stop immediately
func Stop(err error) error {
	return StopError{Err: err}
}

// IsStopError checks if an error is a StopError
func IsStopError(err error) bool {
	var stopErr StopError
	return errors.As(err, &stopErr)
}

// WithRetryAdvanced is like WithRetry but respects StopError to halt retries
// immediately. The unwrapped error is returned in that case.
func WithRetryAdvanced(ctx context.Context, fn RetryableFunc, config BackoffConfig) error {
	return run(ctx, fn, config, true)
}

func run(ctx context.Context, fn RetryableFunc, config BackoffConfig, honorStop bool) error {
	backoff := ExponentialBackoff(config)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			if config.OnRetry != nil {
				config.OnRetry(attempts, lastErr)
			}
			timer := time.NewTimer(backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry cancelled by context: %w", ctx.Err())
			case <-timer.C:
			}
		}

		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if honorStop && IsStopError(err) {
			var stopErr StopError
			errors.As(err, &stopErr)
			logger.Debug("[RETRY] stop requested", "attempt", attempts, "error", stopErr.Err)
			return stopErr.Err
		}
		logger.Debug("[RETRY] attempt failed", "attempt", attempts, "max_attempts", config.MaxRetries+1, "error", err)
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}
