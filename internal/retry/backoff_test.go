package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackoff(maxAttempts int, jitter bool) *Backoff {
	return NewBackoff(BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  maxAttempts,
		Jitter:       jitter,
	})
}

func TestRetrySucceedsWithoutDelay(t *testing.T) {
	attempts := 0
	err := testBackoff(3, false).Retry(context.Background(), func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := testBackoff(5, false).Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsBudget(t *testing.T) {
	attempts := 0
	opErr := errors.New("still down")
	err := testBackoff(4, false).Retry(context.Background(), func() error {
		attempts++
		return opErr
	})

	assert.ErrorIs(t, err, opErr)
	// The budget bounds the attempts exactly, no extra try.
	assert.Equal(t, 4, attempts)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		Multiplier:   1.0,
		MaxAttempts:  5,
	})
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := backoff.Retry(ctx, func() error {
		attempts++
		return errors.New("down")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryCanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := testBackoff(3, false).Retry(ctx, func() error {
		attempts++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
}

func TestDelayGrowsAndCaps(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
	})

	assert.Equal(t, 100*time.Millisecond, b.delayFor(1))
	assert.Equal(t, 200*time.Millisecond, b.delayFor(2))
	assert.Equal(t, 400*time.Millisecond, b.delayFor(3))
	// Capped at MaxDelay from the fifth attempt on.
	assert.Equal(t, time.Second, b.delayFor(5))
	assert.Equal(t, time.Second, b.delayFor(9))
}

func TestFixedDelayWithUnitMultiplier(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   1.0,
		MaxAttempts:  5,
	})

	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 5*time.Second, b.delayFor(attempt))
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	})

	for i := 0; i < 100; i++ {
		delay := b.delayFor(2)
		assert.GreaterOrEqual(t, delay, 150*time.Millisecond)
		assert.LessOrEqual(t, delay, 250*time.Millisecond)
	}
}
