// Package worker implements a small bounded pool of goroutines that run
// inbound-datagram jobs, so the server loop never spawns a goroutine per
// packet and a burst of traffic cannot exhaust the process.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed  = errors.New("worker: pool closed")
	ErrQueueFull   = errors.New("worker: job queue is full")
)

// Job is a unit of work submitted to the pool.
type Job interface {
	Execute(ctx context.Context) error
}

// JobFunc adapts a plain function to the Job interface.
type JobFunc func(ctx context.Context) error

func (f JobFunc) Execute(ctx context.Context) error { return f(ctx) }

// Config holds worker pool configuration.
type Config struct {
	// Workers is the number of goroutines processing jobs. Spec calls for
	// a small fixed-size pool; default is 4.
	Workers int

	// QueueSize bounds how many jobs may wait for a free worker.
	QueueSize int

	// PanicHandler, if set, is called with the recovered value when a job
	// panics instead of crashing the process.
	PanicHandler func(interface{})
}

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

// Pool is a bounded worker pool.
type Pool struct {
	workers int
	queue   chan *jobWrapper
	wg      sync.WaitGroup
	closed  atomic.Bool

	panicHandler func(interface{})

	jobsSubmitted atomic.Uint64
	jobsCompleted atomic.Uint64
	jobsRejected  atomic.Uint64
	jobsFailed    atomic.Uint64
}

type jobWrapper struct {
	job Job
	ctx context.Context
}

// NewPool starts cfg.Workers goroutines reading from a queue of size
// cfg.QueueSize.
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	p := &Pool{
		workers:      cfg.Workers,
		queue:        make(chan *jobWrapper, cfg.QueueSize),
		panicHandler: cfg.PanicHandler,
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for wrapper := range p.queue {
		p.executeJob(wrapper)
	}
}

func (p *Pool) executeJob(wrapper *jobWrapper) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			p.jobsFailed.Add(1)
		}
	}()

	if err := wrapper.job.Execute(wrapper.ctx); err != nil {
		p.jobsFailed.Add(1)
	} else {
		p.jobsCompleted.Add(1)
	}
}

// Submit queues job for execution without waiting for it to complete. It
// returns ErrQueueFull if the queue is full and ErrPoolClosed if the pool
// has been shut down.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.jobsSubmitted.Add(1)

	select {
	case p.queue <- &jobWrapper{job: job, ctx: ctx}:
		return nil
	default:
		p.jobsRejected.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting new jobs and waits for in-flight jobs to finish, or
// until timeout elapses.
func (p *Pool) Close(timeout time.Duration) error {
	if p.closed.Swap(true) {
		return ErrPoolClosed
	}
	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("worker: shutdown timeout exceeded")
	}
}

// Stats reports pool activity counters.
type Stats struct {
	Workers    int
	QueueDepth int
	Submitted  uint64
	Completed  uint64
	Rejected   uint64
	Failed     uint64
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueDepth: len(p.queue),
		Submitted:  p.jobsSubmitted.Load(),
		Completed:  p.jobsCompleted.Load(),
		Rejected:   p.jobsRejected.Load(),
		Failed:     p.jobsFailed.Load(),
	}
}
