package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPoolDefaults(t *testing.T) {
	pool := NewPool(Config{})
	defer pool.Close(time.Second)

	if pool.workers != defaultWorkers {
		t.Errorf("workers = %d, want default %d", pool.workers, defaultWorkers)
	}
}

func TestSubmitExecutesJob(t *testing.T) {
	pool := NewPool(Config{Workers: 2, QueueSize: 10})
	defer pool.Close(time.Second)

	var executed atomic.Bool
	job := JobFunc(func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	if err := pool.Submit(context.Background(), job); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	deadline := time.After(time.Second)
	for !executed.Load() {
		select {
		case <-deadline:
			t.Fatal("job was not executed within 1s")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	stats := pool.Stats()
	if stats.Completed != 1 {
		t.Errorf("completed = %d, want 1", stats.Completed)
	}
}

func TestSubmitCountsJobError(t *testing.T) {
	pool := NewPool(Config{Workers: 2, QueueSize: 10})
	defer pool.Close(time.Second)

	job := JobFunc(func(ctx context.Context) error {
		return errors.New("job failed")
	})
	if err := pool.Submit(context.Background(), job); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	waitForStat(t, pool, func(s Stats) bool { return s.Failed == 1 })
}

func TestSubmitRecoversPanic(t *testing.T) {
	var panicked atomic.Bool
	pool := NewPool(Config{
		Workers:   2,
		QueueSize: 10,
		PanicHandler: func(r interface{}) {
			panicked.Store(true)
		},
	})
	defer pool.Close(time.Second)

	job := JobFunc(func(ctx context.Context) error {
		panic("boom")
	})
	if err := pool.Submit(context.Background(), job); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	waitForStat(t, pool, func(s Stats) bool { return s.Failed == 1 })
	if !panicked.Load() {
		t.Error("panic handler was not invoked")
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	pool := NewPool(Config{Workers: 1, QueueSize: 1})
	defer pool.Close(time.Second)

	block := make(chan struct{})
	pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
		<-block
		return nil
	}))
	pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
		<-block
		return nil
	}))

	err := pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error { return nil }))
	close(block)
	if err != ErrQueueFull {
		t.Errorf("Submit() on full queue = %v, want ErrQueueFull", err)
	}
}

func TestSubmitAfterCloseRejected(t *testing.T) {
	pool := NewPool(Config{Workers: 2, QueueSize: 10})
	if err := pool.Close(time.Second); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err := pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error { return nil }))
	if err != ErrPoolClosed {
		t.Errorf("Submit after Close = %v, want ErrPoolClosed", err)
	}
}

func TestConcurrentSubmit(t *testing.T) {
	pool := NewPool(Config{Workers: 4, QueueSize: 200})
	defer pool.Close(time.Second)

	const jobs = 100
	var completed atomic.Uint64
	var wg sync.WaitGroup
	wg.Add(jobs)

	for i := 0; i < jobs; i++ {
		go func() {
			defer wg.Done()
			pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
				completed.Add(1)
				return nil
			}))
		}()
	}
	wg.Wait()

	waitForStat(t, pool, func(s Stats) bool { return s.Completed == jobs })
	if completed.Load() != jobs {
		t.Errorf("completed = %d, want %d", completed.Load(), jobs)
	}
}

func waitForStat(t *testing.T, pool *Pool, ok func(Stats) bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if ok(pool.Stats()) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("stats condition not met within 1s, last stats: %+v", pool.Stats())
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
