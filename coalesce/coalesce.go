// Package coalesce deduplicates concurrent identical background jobs by
// key and bounds their parallelism.
//
// It's a thin layer over golang.org/x/sync/singleflight: at most one job
// per key is ever in flight, every caller for that key observes the same
// outcome, and the number of jobs actually running at once is capped by an
// internal gate independent of any foreground limits.
package coalesce

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxConcurrent is the default cap on jobs running at once.
const DefaultMaxConcurrent = 2

// Coalescer merges concurrent identical jobs into one shared execution.
//
// A Coalescer is safe for concurrent use.
type Coalescer struct {
	group singleflight.Group
	slots *semaphore.Weighted
}

// New creates a Coalescer running at most maxConcurrent jobs at once.
//
// If maxConcurrent <= 0, DefaultMaxConcurrent is used.
func New(maxConcurrent int) *Coalescer {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Coalescer{
		slots: semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Do returns the result of running fn under the given key.
//
// If a job for key is already pending, no new job is started and the
// caller observes the pending job's eventual outcome, success or failure.
// Otherwise fn runs once a slot is available; the slot is released and the
// key forgotten whichever way the job ends, so a later call with the same
// key starts fresh.
//
// A caller whose ctx is done stops waiting and gets ctx.Err(), but the
// underlying job is detached from the caller's cancellation and runs to
// completion; work already scheduled is never wasted.
func (c *Coalescer) Do(
	ctx context.Context,
	key string,
	fn func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	jobCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if err := c.slots.Acquire(jobCtx, 1); err != nil {
			return nil, err
		}
		defer c.slots.Release(1)
		return fn(jobCtx)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
