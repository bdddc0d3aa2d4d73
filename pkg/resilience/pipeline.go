package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Pipeline composes the other primitives in this package into a single
// call wrapper: rate limit, then bulkhead, then retry-wrapped circuit
// breaker, then timeout, then fn. No production call site in this codebase
// currently needs all five at once — each is wired individually at the one
// call site that needs it (see DESIGN.md) — but Pipeline stays as the
// general-purpose composition a future call site can reach for instead of
// hand-rolling the same nesting.
type Pipeline struct {
	logger *slog.Logger

	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	circuitBreaker *CircuitBreaker
	retryConfig    *RetryConfig
	timeout        time.Duration
}

// PipelineOption attaches one stage to a Pipeline under construction.
type PipelineOption func(*Pipeline)

// WithRateLimit adds rate limiting, applied before every other stage.
func WithRateLimit(rl *RateLimiter) PipelineOption {
	return func(p *Pipeline) { p.rateLimiter = rl }
}

// WithBulkhead adds a concurrency cap around the retry/breaker/timeout
// stages.
func WithBulkhead(bh *Bulkhead) PipelineOption {
	return func(p *Pipeline) { p.bulkhead = bh }
}

// WithCircuitBreaker adds a circuit breaker around each retry attempt.
func WithCircuitBreaker(cb *CircuitBreaker) PipelineOption {
	return func(p *Pipeline) { p.circuitBreaker = cb }
}

// WithRetry adds retry with backoff around the breaker/timeout/fn call.
func WithRetry(cfg RetryConfig) PipelineOption {
	return func(p *Pipeline) { p.retryConfig = &cfg }
}

// WithPipelineTimeout bounds each individual call to fn.
func WithPipelineTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.timeout = d }
}

// NewPipeline builds a Pipeline from the given stages; any stage left
// unconfigured is skipped at Execute time.
func NewPipeline(logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute runs fn through every stage this Pipeline was built with.
func (p *Pipeline) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.rateLimiter != nil {
		if err := p.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limited: %w", err)
		}
	}

	inner := func() error { return p.runWithBreakerAndRetry(ctx, fn) }

	if p.bulkhead != nil {
		return p.bulkhead.Execute(ctx, inner)
	}
	return inner()
}

func (p *Pipeline) runWithBreakerAndRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	call := func() error {
		if p.timeout > 0 {
			return WithTimeout(ctx, p.timeout, fn)
		}
		return fn(ctx)
	}
	if p.circuitBreaker != nil {
		guarded := call
		call = func() error { return p.circuitBreaker.Execute(guarded) }
	}

	if p.retryConfig == nil {
		return call()
	}
	return Retry(ctx, *p.retryConfig, func(attempt int) error {
		if attempt > 0 {
			p.logger.Debug("retrying", "attempt", attempt)
		}
		return call()
	})
}
