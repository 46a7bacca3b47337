// Package util provides shared helpers for the cache service.
package util

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
)

// FileRetryOptions returns retry options for filesystem calls that can fail
// transiently while another process holds the file (virus scanners, indexers).
func FileRetryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(50 * time.Millisecond),
		retry.MaxDelay(200 * time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsTransientFileError),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
}

// Retry executes fn with retry logic.
// Returns the last error if all attempts fail.
func Retry(ctx context.Context, fn func() error, opts ...retry.Option) error {
	if len(opts) == 0 {
		opts = FileRetryOptions(ctx)
	}
	return retry.Do(fn, opts...)
}

// IsTransientFileError returns true for errors that usually clear on their own.
func IsTransientFileError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.ETXTBSY)
}
