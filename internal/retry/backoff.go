// Package retry provides bounded backoff for startup dependencies. The
// database open and the initial broker connect both run through it, so a
// dependency that is slow to come up delays the process instead of killing
// it immediately.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// BackoffConfig shapes one retry loop. A Multiplier of 1 gives the fixed
// delay the broker connect uses; anything above grows the delay
// exponentially up to MaxDelay.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
	Jitter       bool
}

// Backoff runs operations under a bounded retry budget.
type Backoff struct {
	config BackoffConfig
}

func NewBackoff(config BackoffConfig) *Backoff {
	return &Backoff{config: config}
}

// Retry runs operation until it succeeds, the attempt budget is spent, or
// the context ends. On exhaustion the last operation error is returned.
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = operation(); lastErr == nil {
			return nil
		}
		if attempt == b.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.delayFor(attempt)):
		}
	}

	return lastErr
}

// delayFor computes the pause after a failed attempt, spread by ±25% when
// jitter is on so synchronized restarts do not hammer a recovering
// dependency in lockstep.
func (b *Backoff) delayFor(attempt int) time.Duration {
	delay := float64(b.config.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= b.config.Multiplier
	}
	if ceiling := float64(b.config.MaxDelay); delay > ceiling {
		delay = ceiling
	}
	if b.config.Jitter {
		delay += (rand.Float64() - 0.5) * 0.5 * delay
	}
	return time.Duration(delay)
}
