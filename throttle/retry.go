package throttle

import (
	"context"
	"errors"
	"time"

	"github.com/foodscan/prodcache"
)

// Default retry values.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Millisecond * 300
)

// retrier re-runs an operation with exponential backoff on failure.
//
// The delay before retry k (1-based) is baseDelay*2^k plus a fixed jitter
// offset of 1/8 of that value.
type retrier struct {
	maxAttempts int
	baseDelay   time.Duration
	retryable   func(error) bool
}

// run executes fn up to maxAttempts times and fails with the last error
// once attempts are exhausted, or immediately once an error classifies as
// terminal.
func (r retrier) run(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.baseDelay * (1 << attempt)
			delay += delay / 8
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !r.retryable(err) {
			return err
		}
	}
	return err
}

func defaultRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return prodcache.IsRetryable(err)
}
