package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIdempotencyController_ReplaysCachedResultForSameCommandID(t *testing.T) {
	ic := NewIdempotencyController(time.Minute, testLogger())

	calls := 0
	run := func() (any, error) {
		calls++
		return "delivered", nil
	}

	first, err := ic.Execute("cmd-7f3a", run)
	if err != nil || first != "delivered" {
		t.Fatalf("unexpected first outcome: %v, %v", first, err)
	}

	second, err := ic.Execute("cmd-7f3a", run)
	if err != nil || second != "delivered" {
		t.Fatalf("unexpected replayed outcome: %v, %v", second, err)
	}
	if calls != 1 {
		t.Fatalf("a retried Result for the same command_id should not re-run fn, got %d calls", calls)
	}
}

func TestIdempotencyController_DistinctCommandIDsRunIndependently(t *testing.T) {
	ic := NewIdempotencyController(time.Minute, testLogger())

	calls := 0
	run := func() (any, error) {
		calls++
		return nil, nil
	}

	ic.Execute("cmd-a", run)
	ic.Execute("cmd-b", run)
	if calls != 2 {
		t.Fatalf("distinct keys should each run fn, got %d calls", calls)
	}
}

func TestIdempotencyController_ReplaysCachedError(t *testing.T) {
	ic := NewIdempotencyController(time.Minute, testLogger())
	wantErr := errors.New("unknown command")

	calls := 0
	run := func() (any, error) {
		calls++
		return nil, wantErr
	}

	ic.Execute("cmd-stale", run)
	_, err := ic.Execute("cmd-stale", run)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the cached error to be replayed, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected only one real call, got %d", calls)
	}
}

func TestIdempotencyController_CleanupDropsExpiredEntries(t *testing.T) {
	ic := NewIdempotencyController(10*time.Millisecond, testLogger())

	ic.Execute("cmd-old", func() (any, error) { return nil, nil })
	time.Sleep(20 * time.Millisecond)
	ic.Cleanup()

	calls := 0
	ic.Execute("cmd-old", func() (any, error) {
		calls++
		return nil, nil
	})
	if calls != 1 {
		t.Fatal("expected the expired entry to have been evicted, forcing a fresh call")
	}
}

func TestIdempotencyController_RunCleanupStopsOnContextCancel(t *testing.T) {
	ic := NewIdempotencyController(time.Minute, testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		ic.RunCleanup(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected RunCleanup to return once ctx is cancelled")
	}
}
