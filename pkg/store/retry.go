package store

import (
	"context"
	"log/slog"
	"time"
)

// retryPause is the wait before the single in-cycle retry of a transient
// store failure.
const retryPause = 250 * time.Millisecond

// RetryTransient runs fn and, when it fails with a TransientError, retries
// it once after a short pause. Fatal and not-found errors pass through
// untouched.
func RetryTransient(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	err := fn()
	if err == nil || !IsTransient(err) {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("Transient store failure, retrying once", "op", op, "error", err)
	select {
	case <-ctx.Done():
		return err
	case <-time.After(retryPause):
	}
	return fn()
}
