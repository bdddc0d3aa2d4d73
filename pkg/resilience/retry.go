package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig tunes Retry's backoff. RetryableErr lets a caller bail out
// early on an error it knows retrying won't fix (bad arguments, auth
// failures) instead of burning every attempt against it.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFrac   float64 // 0-1, randomizes each delay by +/- this fraction
	RetryableErr func(error) bool
}

// DefaultRetryConfig is 3 attempts starting at 100ms, doubling up to a 30s
// cap, 10% jitter, retrying on any error.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFrac:   0.1,
		RetryableErr: func(error) bool { return true },
	}
}

// Retry calls fn up to config.MaxAttempts times with exponential backoff
// between attempts. fn receives the zero-based attempt index. Returns nil
// on the first success, ctx.Err() if ctx is cancelled mid-backoff, fn's
// error as-is once RetryableErr reports it as permanent, or a wrapped error
// once attempts are exhausted.
func Retry(ctx context.Context, config RetryConfig, fn func(attempt int) error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	delay := config.InitialDelay
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if config.RetryableErr != nil && !config.RetryableErr(lastErr) {
			return lastErr
		}
		if attempt == config.MaxAttempts-1 {
			break
		}

		sleep := jittered(delay, config.JitterFrac)
		if sleep > config.MaxDelay {
			sleep = config.MaxDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		delay = time.Duration(float64(delay) * config.Multiplier)
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", config.MaxAttempts, lastErr)
}

func jittered(d time.Duration, frac float64) time.Duration {
	return d + time.Duration(float64(d)*frac*(rand.Float64()*2-1))
}
