package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatwire/internal/constants"
)

// withWriteRetry executes a write operation with bounded retries. SQLite
// serializes writers; under concurrent consumer and HTTP traffic a write can
// hit a locked database even with the busy timeout.
func withWriteRetry(ctx context.Context, operation func() error, operationName string) error {
	var lastErr error

	maxAttempts := constants.DefaultDatabaseRetryAttempts
	initialBackoff := time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableDBError(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		backoff := time.Duration(attempt) * initialBackoff
		if backoff > time.Duration(constants.DefaultMaxBackoffMs)*time.Millisecond {
			backoff = time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxAttempts, lastErr)
}

// isRetryableDBError reports whether a database error is worth retrying.
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()
	if strings.Contains(errStr, "database is locked") {
		return true
	}
	if strings.Contains(errStr, "disk I/O error") {
		return true
	}
	return false
}
