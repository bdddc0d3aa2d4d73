package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// IdempotencyController remembers fn's outcome per key for a TTL window,
// so a retried or duplicate call with the same key replays the first
// outcome instead of running fn again. The command queue uses this to make
// a retried or post-timeout Result delivery a no-op rather than
// double-processing it.
type IdempotencyController struct {
	mu     sync.RWMutex
	seen   map[string]idempotencyEntry
	ttl    time.Duration
	logger *slog.Logger
}

type idempotencyEntry struct {
	result  any
	err     error
	created time.Time
}

// NewIdempotencyController builds a controller that retains outcomes for
// ttl (default 5 minutes).
func NewIdempotencyController(ttl time.Duration, logger *slog.Logger) *IdempotencyController {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &IdempotencyController{
		seen:   make(map[string]idempotencyEntry),
		ttl:    ttl,
		logger: logger,
	}
}

// Execute runs fn unless key was already seen within the TTL window, in
// which case it replays the cached outcome without calling fn again.
func (ic *IdempotencyController) Execute(key string, fn func() (any, error)) (any, error) {
	ic.mu.RLock()
	entry, ok := ic.seen[key]
	ic.mu.RUnlock()
	if ok && time.Since(entry.created) < ic.ttl {
		ic.logger.Debug("idempotency hit, replaying cached outcome", "key", key)
		return entry.result, entry.err
	}

	result, err := fn()

	ic.mu.Lock()
	ic.seen[key] = idempotencyEntry{result: result, err: err, created: time.Now()}
	ic.mu.Unlock()
	return result, err
}

// Cleanup drops entries older than the TTL window. Call periodically (see
// RunCleanup) so seen doesn't grow unbounded on a long-lived controller.
func (ic *IdempotencyController) Cleanup() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	now := time.Now()
	for key, entry := range ic.seen {
		if now.Sub(entry.created) > ic.ttl {
			delete(ic.seen, key)
		}
	}
}

// RunCleanup calls Cleanup on interval until ctx is cancelled. Meant to run
// as a background goroutine for the life of the owning component.
func (ic *IdempotencyController) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ic.Cleanup()
		}
	}
}
