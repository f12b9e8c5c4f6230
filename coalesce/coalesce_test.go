package coalesce_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foodscan/prodcache/coalesce"
)

func TestCoalescing(t *testing.T) {
	c := coalesce.New(2)
	ctx := context.Background()

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	job := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return "result", nil
	}

	var wg sync.WaitGroup
	results := make([]interface{}, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Do(ctx, "k", job)
		}()
	}

	<-started
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Errorf("the job should run exactly once, got %d", calls)
	}
	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d failed: %v", i, errs[i])
		}
		if results[i] != "result" {
			t.Errorf("caller %d got %v, expected %q", i, results[i], "result")
		}
	}
}

func TestFailurePropagatesToAllCallers(t *testing.T) {
	c := coalesce.New(2)
	ctx := context.Background()

	wantErr := errors.New("job failed")
	started := make(chan struct{})
	release := make(chan struct{})

	job := func(ctx context.Context) (interface{}, error) {
		close(started)
		<-release
		return nil, wantErr
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Do(ctx, "k", job)
		}()
	}

	<-started
	close(release)
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != wantErr {
			t.Errorf("caller %d expected %v, got %v", i, wantErr, errs[i])
		}
	}
}

func TestKeyForgottenAfterCompletion(t *testing.T) {
	c := coalesce.New(2)
	ctx := context.Background()

	var calls int32
	job := func(ctx context.Context) (interface{}, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	if _, err := c.Do(ctx, "k", job); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if _, err := c.Do(ctx, "k", job); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("sequential calls should each start fresh, got %d runs", calls)
	}
}

func TestBoundedParallelism(t *testing.T) {
	c := coalesce.New(1)
	ctx := context.Background()

	var running, peak int32
	release := make(chan struct{})
	job := func(ctx context.Context) (interface{}, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&running, -1)
		return nil, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		key := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Do(ctx, key, job); err != nil {
				t.Errorf("Do failed: %v", err)
			}
		}()
	}

	time.Sleep(time.Millisecond * 50)
	close(release)
	wg.Wait()

	if peak > 1 {
		t.Errorf("at most 1 job should run at once, got %d", peak)
	}
}

func TestCallerCancelDoesNotCancelJob(t *testing.T) {
	c := coalesce.New(1)

	finished := make(chan struct{})
	job := func(ctx context.Context) (interface{}, error) {
		time.Sleep(time.Millisecond * 50)
		select {
		case <-ctx.Done():
			t.Error("the job should be detached from the caller's cancellation")
		default:
		}
		close(finished)
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*10)
	defer cancel()
	if _, err := c.Do(ctx, "k", job); err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded for the waiter, got %v", err)
	}

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Error("the job should still run to completion")
	}
}
