// Package throttle bounds remote work with per-channel rate limits, a
// shared concurrency gate and retries with exponential backoff.
//
// A Throttle owns one ratelimit.Bucket per named channel and a single
// concurrency gate shared across all channels. Running an operation
// through it consumes a rate token, then waits for a concurrency slot,
// then executes the operation with retries. Rate tokens are consumed
// before the gate and are not refunded on failure, so a failing upstream
// is never hammered harder than a healthy one.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/foodscan/prodcache/ratelimit"
)

// Channel names used by the hybrid cache.
const (
	ChannelProductLookup = "productLookup"
	ChannelSearch        = "search"
)

// Default options values.
const (
	DefaultCapacity      = 10
	DefaultWindow        = time.Minute
	DefaultMaxConcurrent = 4
)

// Options defines a read-only view of options used by Throttle.
type Options interface {
	// GetChannelCapacity returns the per-window token budget for the given
	// channel.
	GetChannelCapacity(channel string) int

	// GetWindow returns the rate limiter window duration, shared by all
	// channels.
	GetWindow() time.Duration

	// GetMaxConcurrent returns the cap on simultaneously in-flight
	// operations across all channels.
	GetMaxConcurrent() int

	// GetMaxAttempts returns the total attempt cap per operation,
	// including the initial attempt.
	GetMaxAttempts() int

	// GetBaseDelay returns the base backoff delay between attempts.
	GetBaseDelay() time.Duration

	// IsRetryable reports whether a failed attempt should be retried.
	IsRetryable(err error) bool
}

// OptionsBuilder defines a read-write view of options used by Throttle.
type OptionsBuilder interface {
	Options

	// Build returns the read-only version of options.
	Build() Options

	// SetChannelCapacity sets the per-window token budget for a channel.
	// Channels without an explicit capacity use the default capacity.
	SetChannelCapacity(channel string, capacity int) OptionsBuilder

	// SetDefaultCapacity sets the budget used by channels without an
	// explicit capacity.
	SetDefaultCapacity(capacity int) OptionsBuilder

	// SetWindow sets the rate limiter window duration.
	SetWindow(window time.Duration) OptionsBuilder

	// SetMaxConcurrent sets the shared concurrency cap.
	SetMaxConcurrent(n int) OptionsBuilder

	// SetMaxAttempts sets the total attempt cap per operation.
	SetMaxAttempts(n int) OptionsBuilder

	// SetBaseDelay sets the base backoff delay.
	SetBaseDelay(delay time.Duration) OptionsBuilder

	// SetRetryableFunc overrides the retryability classification.
	SetRetryableFunc(f func(error) bool) OptionsBuilder
}

type options struct {
	capacities  map[string]int
	defCapacity int
	window      time.Duration
	concurrent  int
	attempts    int
	baseDelay   time.Duration
	retryable   func(error) bool
}

// NewDefaultOptions creates an OptionsBuilder with default options.
func NewDefaultOptions() OptionsBuilder {
	return &options{
		capacities:  make(map[string]int),
		defCapacity: DefaultCapacity,
		window:      DefaultWindow,
		concurrent:  DefaultMaxConcurrent,
		attempts:    DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		retryable:   defaultRetryable,
	}
}

func (opt *options) GetChannelCapacity(channel string) int {
	if capacity, ok := opt.capacities[channel]; ok {
		return capacity
	}
	return opt.defCapacity
}

func (opt *options) GetWindow() time.Duration {
	return opt.window
}

func (opt *options) GetMaxConcurrent() int {
	return opt.concurrent
}

func (opt *options) GetMaxAttempts() int {
	return opt.attempts
}

func (opt *options) GetBaseDelay() time.Duration {
	return opt.baseDelay
}

func (opt *options) IsRetryable(err error) bool {
	return opt.retryable(err)
}

func (opt *options) Build() Options {
	return opt
}

func (opt *options) SetChannelCapacity(channel string, capacity int) OptionsBuilder {
	opt.capacities[channel] = capacity
	return opt
}

func (opt *options) SetDefaultCapacity(capacity int) OptionsBuilder {
	opt.defCapacity = capacity
	return opt
}

func (opt *options) SetWindow(window time.Duration) OptionsBuilder {
	opt.window = window
	return opt
}

func (opt *options) SetMaxConcurrent(n int) OptionsBuilder {
	opt.concurrent = n
	return opt
}

func (opt *options) SetMaxAttempts(n int) OptionsBuilder {
	opt.attempts = n
	return opt
}

func (opt *options) SetBaseDelay(delay time.Duration) OptionsBuilder {
	opt.baseDelay = delay
	return opt
}

func (opt *options) SetRetryableFunc(f func(error) bool) OptionsBuilder {
	opt.retryable = f
	return opt
}

// Throttle is the single entry point in front of remote work.
//
// A Throttle is safe for concurrent use.
type Throttle struct {
	opts  Options
	gate  *semaphore.Weighted
	retry retrier

	mu      sync.Mutex
	buckets map[string]*ratelimit.Bucket
}

// New creates a Throttle with the given options.
func New(opts Options) *Throttle {
	return &Throttle{
		opts: opts,
		gate: semaphore.NewWeighted(int64(opts.GetMaxConcurrent())),
		retry: retrier{
			maxAttempts: opts.GetMaxAttempts(),
			baseDelay:   opts.GetBaseDelay(),
			retryable:   opts.IsRetryable,
		},
		buckets: make(map[string]*ratelimit.Bucket),
	}
}

// Do runs fn on the given channel.
//
// It waits for a rate token on the channel's bucket, then for a shared
// concurrency slot, then runs fn with retries. The slot is released on all
// exit paths. The rate token is not refunded on failure.
//
// Operations on different channels contend on the concurrency gate but
// never on each other's rate budget.
func (t *Throttle) Do(
	ctx context.Context,
	channel string,
	fn func(ctx context.Context) error,
) error {
	if err := t.bucket(channel).Acquire(ctx); err != nil {
		return err
	}
	if err := t.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.gate.Release(1)
	return t.retry.run(ctx, fn)
}

func (t *Throttle) bucket(channel string) *ratelimit.Bucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	bucket, ok := t.buckets[channel]
	if !ok {
		bucket = ratelimit.NewBucket(
			t.opts.GetChannelCapacity(channel),
			t.opts.GetWindow(),
		)
		t.buckets[channel] = bucket
	}
	return bucket
}
