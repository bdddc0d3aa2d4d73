package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBulkhead_LimitsConcurrentKubectlExecs(t *testing.T) {
	bh := NewBulkhead("kubectl-exec", 2)

	release := make(chan struct{})
	started := make(chan struct{}, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bh.Execute(context.Background(), func() error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}

	<-started
	<-started

	stats := bh.Stats()
	if stats.Active != 2 {
		t.Fatalf("expected 2 active slots filled, got %d", stats.Active)
	}

	if err := bh.TryExecute(func() error { return nil }); err == nil {
		t.Fatal("expected a 3rd concurrent exec to be rejected at capacity 2")
	}

	close(release)
	wg.Wait()
}

func TestBulkhead_ExecuteRespectsContextCancellation(t *testing.T) {
	bh := NewBulkhead("kubectl-exec", 1)

	hold := make(chan struct{})
	go bh.Execute(context.Background(), func() error {
		<-hold
		return nil
	})
	time.Sleep(10 * time.Millisecond) // let the slot actually get taken

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := bh.Execute(ctx, func() error { return nil })
	if err == nil {
		t.Fatal("expected waiting call to fail once ctx is cancelled")
	}
	close(hold)
}

func TestBulkhead_PropagatesFnError(t *testing.T) {
	bh := NewBulkhead("kubectl-exec", 1)
	wantErr := errors.New("exec: kubectl not found")

	if err := bh.Execute(context.Background(), func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("expected fn's error to propagate, got %v", err)
	}
}

func TestBulkhead_TryAcquireAndReleaseForAsyncHold(t *testing.T) {
	bh := NewBulkhead("stream-in-flight", 1)

	if !bh.TryAcquire() {
		t.Fatal("expected the first acquire to succeed")
	}
	if bh.TryAcquire() {
		t.Fatal("expected a second acquire to fail while the first slot is held")
	}

	bh.Release()
	if !bh.TryAcquire() {
		t.Fatal("expected acquire to succeed again after Release")
	}
}
