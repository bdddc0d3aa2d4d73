package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPipeline_RunsPlainFnWithNoStagesConfigured(t *testing.T) {
	p := NewPipeline(testLogger())

	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("expected a single successful call, got calls=%d err=%v", calls, err)
	}
}

func TestPipeline_BulkheadRejectsOverCapacity(t *testing.T) {
	bh := NewBulkhead("pipeline-test", 1)
	p := NewPipeline(testLogger(), WithBulkhead(bh))

	hold := make(chan struct{})
	go p.Execute(context.Background(), func(ctx context.Context) error {
		<-hold
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Execute(ctx, func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected the second call to be rejected while the bulkhead's one slot is held")
	}
	close(hold)
}

func TestPipeline_RetriesThroughCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "pipeline-test", MaxFailures: 10})
	p := NewPipeline(testLogger(),
		WithCircuitBreaker(cb),
		WithRetry(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}),
	)

	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient store error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected the retry stage to absorb the transient failure, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls)
	}
}

func TestPipeline_RateLimitBlocksExcessCalls(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	p := NewPipeline(testLogger(), WithRateLimit(rl))

	if err := p.Execute(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected the first call within burst to succeed, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Execute(ctx, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected the second call to be rate limited and time out waiting for a token")
	}
}

func TestPipeline_TimeoutStageBoundsSlowFn(t *testing.T) {
	p := NewPipeline(testLogger(), WithPipelineTimeout(15*time.Millisecond))

	err := p.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err == nil {
		t.Fatal("expected the pipeline timeout stage to bound the call")
	}
}
