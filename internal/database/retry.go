package database

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	maxRetryAttempts = 3
	baseRetryDelay   = 50 * time.Millisecond
)

// isRetryableError reports whether a database error is worth retrying.
// Constraint violations and context cancellations never are.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrPoolExhausted) {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed") {
		return false
	}

	retryablePatterns := []string{
		"database is locked",
		"database table is locked",
		"disk i/o error",
		"busy",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// withRetry runs fn with bounded exponential backoff on transient SQLite
// errors. The last error is returned verbatim so callers can still inspect
// constraint failures.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := baseRetryDelay

	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isRetryableError(lastErr) {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
