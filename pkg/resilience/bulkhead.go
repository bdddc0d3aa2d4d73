package resilience

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Bulkhead caps how many calls run concurrently, so a burst of work
// degrades by queueing or rejecting instead of exhausting whatever it
// backs — subprocess slots, file descriptors, goroutines.
type Bulkhead struct {
	name     string
	slots    chan struct{}
	active   atomic.Int64
	rejected atomic.Int64
}

// NewBulkhead builds a bulkhead allowing maxConcurrent calls in flight at
// once. name is used only in rejection errors and Stats.
func NewBulkhead(name string, maxConcurrent int) *Bulkhead {
	return &Bulkhead{name: name, slots: make(chan struct{}, maxConcurrent)}
}

// Execute runs fn once a slot frees up, or returns an error if ctx is
// cancelled first.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	select {
	case b.slots <- struct{}{}:
		b.active.Add(1)
		defer b.release()
		return fn()
	case <-ctx.Done():
		b.rejected.Add(1)
		return fmt.Errorf("bulkhead %s: context cancelled while waiting for a slot", b.name)
	}
}

// TryExecute runs fn immediately if a slot is free, or rejects without
// waiting.
func (b *Bulkhead) TryExecute(fn func() error) error {
	select {
	case b.slots <- struct{}{}:
		b.active.Add(1)
		defer b.release()
		return fn()
	default:
		b.rejected.Add(1)
		return fmt.Errorf("bulkhead %s: no capacity available (%d active)", b.name, b.active.Load())
	}
}

// TryAcquire reserves a slot without running anything, for a caller that
// must hold capacity across an asynchronous boundary — e.g. a command
// dispatched now but resolved later by a different goroutine, as
// executorapi's per-connection in-flight window does. Pair with Release.
func (b *Bulkhead) TryAcquire() bool {
	select {
	case b.slots <- struct{}{}:
		b.active.Add(1)
		return true
	default:
		b.rejected.Add(1)
		return false
	}
}

// Release frees a slot acquired via TryAcquire.
func (b *Bulkhead) Release() {
	b.release()
}

func (b *Bulkhead) release() {
	<-b.slots
	b.active.Add(-1)
}

// BulkheadStats is a point-in-time snapshot of a bulkhead's utilization.
type BulkheadStats struct {
	Name     string `json:"name"`
	Active   int    `json:"active"`
	Capacity int    `json:"capacity"`
	Rejected int    `json:"rejected"`
}

// Stats returns b's current utilization.
func (b *Bulkhead) Stats() BulkheadStats {
	return BulkheadStats{
		Name:     b.name,
		Active:   int(b.active.Load()),
		Capacity: cap(b.slots),
		Rejected: int(b.rejected.Load()),
	}
}
