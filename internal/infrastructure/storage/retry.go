package storage

import (
	"context"
	"strings"
	"time"
)

// isBusy matches the lock contention errors SQLite reports under concurrent writers.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

// withBusyRetry runs op up to attempts times, sleeping backoff between busy failures.
// Non-busy errors return immediately.
func withBusyRetry(ctx context.Context, attempts int, backoff time.Duration, op func() error, onRetry func(attempt int, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op()
		if err == nil || !isBusy(err) || attempt == attempts {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
