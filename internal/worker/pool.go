// Package worker runs background jobs on a fixed number of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull  = errors.New("worker queue is full")
	ErrPoolClosed = errors.New("worker pool is closed")
)

type job struct {
	name string
	fn   func(ctx context.Context) error
}

type Pool struct {
	logger  *logrus.Logger
	workers int
	jobs    chan job

	mu     sync.RWMutex
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger *logrus.Logger, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		logger:  logger,
		workers: workers,
		jobs:    make(chan job, queueSize),
	}
}

// Start launches the workers. Jobs receive a context derived from ctx that
// is cancelled when Stop gives up waiting.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for j := range p.jobs {
		p.execute(id, j)
	}
}

func (p *Pool) execute(id int, j job) {
	entry := p.logger.WithFields(logrus.Fields{"worker": id, "job": j.name})
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", fmt.Sprint(r)).Error("job panicked")
		}
	}()

	if err := j.fn(p.ctx); err != nil {
		entry.WithError(err).WithField("duration", time.Since(start).String()).Error("job failed")
		return
	}

	entry.WithField("duration", time.Since(start).String()).Debug("job finished")
}

// Submit queues fn without blocking.
func (p *Pool) Submit(name string, fn func(ctx context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job{name: name, fn: fn}:
		return nil
	default:
		p.logger.WithField("job", name).Warn("worker queue full, dropping job")
		return ErrQueueFull
	}
}

// Stop stops accepting work and waits for queued jobs to drain. If ctx ends
// first, running jobs are cancelled and ctx's error is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if p.cancel != nil {
			p.cancel()
		}
		return nil
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		<-done
		return ctx.Err()
	}
}
