package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithWriteRetrySucceedsAfterLock(t *testing.T) {
	attempts := 0
	err := withWriteRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	}, "test write")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithWriteRetryGivesUp(t *testing.T) {
	attempts := 0
	err := withWriteRetry(context.Background(), func() error {
		attempts++
		return errors.New("database is locked")
	}, "test write")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test write failed after")
	assert.Equal(t, 3, attempts)
}

func TestWithWriteRetryNonRetryableFailsFast(t *testing.T) {
	attempts := 0
	sentinel := errors.New("UNIQUE constraint failed")
	err := withWriteRetry(context.Background(), func() error {
		attempts++
		return sentinel
	}, "test write")
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestWithWriteRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withWriteRetry(ctx, func() error {
		t.Fatal("operation should not run after cancellation")
		return nil
	}, "test write")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryableDBError(t *testing.T) {
	assert.True(t, isRetryableDBError(errors.New("database is locked")))
	assert.True(t, isRetryableDBError(errors.New("disk I/O error")))
	assert.False(t, isRetryableDBError(errors.New("UNIQUE constraint failed")))
	assert.False(t, isRetryableDBError(context.Canceled))
	assert.False(t, isRetryableDBError(context.DeadlineExceeded))
	assert.False(t, isRetryableDBError(nil))
}
