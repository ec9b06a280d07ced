package store

import (
	"context"
	"simtracker/pkg/backoff"
	"strings"
	"time"
)

const maxRetries = 3

var retryBackoff = &backoff.Config{
	Initial: 50 * time.Millisecond,
	Max:     500 * time.Millisecond,
	Jitter:  50 * time.Millisecond,
}

// isTransientSQLiteErr reports errors that resolve on retry under WAL contention.
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// retryOnContention runs fn, retrying transient SQLite errors with jittered
// exponential backoff. Non-transient errors return immediately.
func retryOnContention(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isTransientSQLiteErr(lastErr) {
			return lastErr
		}
		if attempt > maxRetries {
			break
		}
		if err := backoff.Wait(ctx, attempt, retryBackoff); err != nil {
			return err
		}
	}
	return lastErr
}
