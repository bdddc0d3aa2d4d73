package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SucceedsWithoutExhaustingAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}

	calls := 0
	err := Retry(context.Background(), cfg, func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("connection reset posting result")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls (2 failures + 1 success), got %d", calls)
	}
}

func TestRetry_ExhaustsAttemptsAndWrapsLastError(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	calls := 0
	err := Retry(context.Background(), cfg, func(attempt int) error {
		calls++
		return errors.New("control plane unreachable")
	})
	if err == nil {
		t.Fatal("expected an error once attempts are exhausted")
	}
	if calls != 3 {
		t.Fatalf("expected exactly MaxAttempts=3 calls, got %d", calls)
	}
}

func TestRetry_NonRetryableErrorStopsImmediately(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		RetryableErr: func(err error) bool { return err.Error() != "result rejected: unknown cluster" },
	}

	calls := 0
	err := Retry(context.Background(), cfg, func(attempt int) error {
		calls++
		return errors.New("result rejected: unknown cluster")
	})
	if err == nil {
		t.Fatal("expected the permanent error to surface")
	}
	if calls != 1 {
		t.Fatalf("a non-retryable error should stop after the first attempt, got %d calls", calls)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Retry(ctx, cfg, func(attempt int) error { return errors.New("still failing") })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestDefaultRetryConfig_RetriesEverything(t *testing.T) {
	cfg := DefaultRetryConfig()
	if !cfg.RetryableErr(errors.New("anything")) {
		t.Fatal("default config should treat every error as retryable")
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("expected default MaxAttempts=3, got %d", cfg.MaxAttempts)
	}
}
