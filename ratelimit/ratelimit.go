// Package ratelimit provides a fixed-window token bucket.
//
// A Bucket allows bursts of up to its capacity at the start of every
// window, then makes further acquirers wait for the next full refill. It
// is not a sliding-window or leaky-bucket limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a fixed-window token bucket for one logical channel.
//
// A Bucket is safe for concurrent use. Waiters are served
// first-available, not FIFO.
type Bucket struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	tokens   int

	// refill is closed when the pending refill fires. It's non-nil iff a
	// refill timer is outstanding; waiters arriving during a deficit share
	// it instead of scheduling timers of their own.
	refill chan struct{}
}

// NewBucket creates a Bucket allowing capacity acquires per window.
//
// It panics if capacity <= 0 or window <= 0.
func NewBucket(capacity int, window time.Duration) *Bucket {
	if capacity <= 0 {
		panic("ratelimit: capacity must be positive")
	}
	if window <= 0 {
		panic("ratelimit: window must be positive")
	}
	return &Bucket{
		capacity: capacity,
		window:   window,
		tokens:   capacity,
	}
}

// Acquire blocks until a token is available, then consumes one.
//
// It returns early with ctx.Err() if the context is done first. Tokens are
// not refunded: once consumed, a token stays spent for its window even if
// the guarded operation fails.
func (b *Bucket) Acquire(ctx context.Context) error {
	for {
		select {
		default:
		case <-ctx.Done():
			return ctx.Err()
		}

		b.mu.Lock()
		if b.tokens > 0 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		if b.refill == nil {
			// First acquirer to see the deficit schedules the single
			// refill for this window.
			ch := make(chan struct{})
			b.refill = ch
			time.AfterFunc(b.window, func() {
				b.mu.Lock()
				b.tokens = b.capacity
				b.refill = nil
				b.mu.Unlock()
				close(ch)
			})
		}
		wait := b.refill
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Tokens returns the number of tokens remaining in the current window.
func (b *Bucket) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}
