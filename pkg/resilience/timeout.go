package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs fn in a goroutine and returns its error, or a timeout
// error if timeout elapses first. fn's goroutine is not forcibly killed on
// timeout — it keeps running until it returns on its own, same as
// context.WithTimeout's own cancellation contract. A caller that needs fn
// to actually stop at the deadline must have fn itself watch the ctx it's
// given.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("operation timed out after %s", timeout)
	}
}
