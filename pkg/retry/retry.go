// Package retry provides retry with exponential backoff for the mirror
// transports. The primary webhook never goes through here: a beacon that
// fails is logged and dropped.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/bardlex/cryptodecoy/pkg/errors"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// MirrorConfig is tuned for event mirrors (Kafka, ZeroMQ). Mirrors are
// best-effort, so it gives up quickly.
func MirrorConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  1.5,
		Jitter:      true,
	}
}

// StoreConfig is tuned for connecting to snapshot stores at startup
func StoreConfig() *Config {
	return &Config{
		MaxAttempts: 4,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    3 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// Do executes a function with retry logic
func Do(ctx context.Context, config *Config, fn RetryableFunc) error {
	_, err := DoWithResult(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes a function with retry logic and returns a result
func DoWithResult[T any](ctx context.Context, config *Config, fn func() (T, error)) (T, error) {
	var zero T
	if config == nil {
		config = DefaultConfig()
	}

	var lastErr error
	for attempt := range config.MaxAttempts {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			return zero, err
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		if err := Sleep(ctx, config.calculateDelay(attempt)); err != nil {
			return zero, err
		}
	}

	return zero, errors.Wrap(lastErr, errors.ErrorTypeInternal, "retry",
		"operation failed after maximum retry attempts").
		WithContext("max_attempts", config.MaxAttempts)
}

// Sleep waits for d or until ctx is done. It returns ctx.Err() if the
// context ended first; a non-positive d only checks the context.
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

// calculateDelay calculates the delay for the given attempt using exponential backoff
func (c *Config) calculateDelay(attempt int) time.Duration {
	delay := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt))
	delay = min(delay, float64(c.MaxDelay))

	// up to 10% on top
	if c.Jitter {
		delay += delay * 0.1 * rand.Float64()
	}

	return time.Duration(delay)
}
