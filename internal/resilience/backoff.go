package resilience

import (
	"context"
	"time"
)

// Backoff is an exponential retry schedule: the delay for attempt n is
// Base<<n, capped at Max. The zero value is not usable; construct with the
// fields set or rely on [Backoff.withDefaults].
type Backoff struct {
	// Base is the delay before the first retry. Default: 1s.
	Base time.Duration

	// Max caps the per-attempt delay. Default: 30s.
	Max time.Duration

	// Attempts is the maximum number of retries before giving up.
	// Default: 5.
	Attempts int
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = time.Second
	}
	if b.Max <= 0 {
		b.Max = 30 * time.Second
	}
	if b.Attempts <= 0 {
		b.Attempts = 5
	}
	return b
}

// Delay returns the wait before retry attempt (zero-based), doubling each
// attempt up to Max.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Wait blocks for the attempt's delay or until ctx is cancelled. It returns
// ctx.Err() on cancellation and nil once the delay has elapsed.
func (b Backoff) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(b.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
