package store

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	writeMaxRetries = 3
	writeBaseDelay  = 50 * time.Millisecond
)

// IsBusyError reports whether err is SQLITE_BUSY or "database is locked".
// Both are concurrency errors that warrant a retry.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry runs op, retrying busy errors with exponential backoff
// (50ms, 100ms, ...). Other errors return immediately.
func withRetry(ctx context.Context, name string, op func() error) error {
	var err error
	for i := 0; i < writeMaxRetries; i++ {
		err = op()
		if err == nil || !IsBusyError(err) {
			return err
		}
		if i == writeMaxRetries-1 {
			break
		}
		delay := writeBaseDelay * time.Duration(1<<i)
		slog.Debug("Database busy, retrying", "op", name, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
