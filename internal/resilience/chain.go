package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrExhausted is returned by [Chain.Execute] when every stage fails or has
// an open circuit breaker.
var ErrExhausted = errors.New("all fallback stages failed")

// Stage is one named delivery strategy in an ordered fallback chain. Run
// closures typically capture per-call state; the stage Name ties each call
// back to the persistent circuit breaker for that strategy.
type Stage[R any] struct {
	// Name identifies the strategy (e.g., "streaming", "non-streaming",
	// "direct"). Stages with the same name share one breaker across calls.
	Name string

	// Run attempts the strategy.
	Run func(ctx context.Context) (R, error)
}

// Chain executes ordered fallback stages, each guarded by its own persistent
// circuit breaker. A stage whose breaker is open is skipped without being
// attempted, so a persistently failing primary strategy stops costing a
// timeout on every call.
//
// Chain is safe for concurrent use, but callers that must not interleave
// results (the conversation transport) serialize Execute themselves.
type Chain[R any] struct {
	breakerCfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewChain creates a [Chain] whose per-stage breakers are built from cfg
// (the Name field is overridden per stage).
func NewChain[R any](cfg BreakerConfig) *Chain[R] {
	return &Chain[R]{
		breakerCfg: cfg,
		breakers:   make(map[string]*CircuitBreaker),
	}
}

// Execute tries each stage in order until one succeeds, returning the result
// and the name of the stage that produced it. Breaker-open stages are
// skipped. When every stage fails, the last error is wrapped in
// [ErrExhausted].
func (c *Chain[R]) Execute(ctx context.Context, stages ...Stage[R]) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		breaker := c.breakerFor(stage.Name)
		var result R
		err := breaker.Execute(func() error {
			var innerErr error
			result, innerErr = stage.Run(ctx)
			return innerErr
		})
		if err == nil {
			return result, stage.Name, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping fallback stage (circuit open)", "stage", stage.Name)
		} else {
			slog.Warn("fallback stage failed, trying next",
				"stage", stage.Name, "error", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

// breakerFor returns the persistent breaker for a stage name, creating it on
// first use.
func (c *Chain[R]) breakerFor(name string) *CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[name]; ok {
		return b
	}
	cfg := c.breakerCfg
	cfg.Name = name
	b := NewCircuitBreaker(cfg)
	c.breakers[name] = b
	return b
}

// BreakerState reports the state of the named stage's breaker. Stages that
// have never run report [StateClosed].
func (c *Chain[R]) BreakerState(name string) State {
	c.mu.Lock()
	b, ok := c.breakers[name]
	c.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return b.State()
}
