package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrClosed = errors.New("worker pool closed")

// Task is a unit of background work. The context is cancelled if the pool
// is forced to stop before the task finishes.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed set of goroutines fed by a buffered queue.
// Submitting never blocks: when the queue is full the task gets a goroutine
// of its own.
type Pool struct {
	queue  chan Task
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	draining bool
	closed   bool

	timers  sync.WaitGroup
	running sync.WaitGroup
}

func NewPool(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}

	if queueSize < 0 {
		queueSize = 0
	}

	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		queue:  make(chan Task, queueSize),
		logger: logger.With("component", "worker"),
		ctx:    ctx,
		cancel: cancel,
	}

	for range workers {
		p.running.Add(1)

		go p.work()
	}

	return p
}

// Go runs task as soon as a worker is free.
func (p *Pool) Go(task func(ctx context.Context)) {
	p.mu.Lock()
	draining := p.draining
	p.mu.Unlock()

	if draining {
		p.logger.Warn("task dropped", "error", ErrClosed)
		return
	}

	p.enqueue(task)
}

// After runs task once d has elapsed. Timers armed before Shutdown still fire.
func (p *Pool) After(d time.Duration, task func(ctx context.Context)) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		p.logger.Warn("delayed task dropped", "error", ErrClosed)

		return
	}

	p.timers.Add(1)
	p.mu.Unlock()

	time.AfterFunc(d, func() {
		defer p.timers.Done()

		p.enqueue(task)
	})
}

func (p *Pool) enqueue(task Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.logger.Warn("task dropped", "error", ErrClosed)
		return
	}

	select {
	case p.queue <- task:
	default:
		p.running.Add(1)

		go func() {
			defer p.running.Done()

			p.run(task)
		}()
	}
}

func (p *Pool) work() {
	defer p.running.Done()

	for task := range p.queue {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "panic", r)
		}
	}()

	task(p.ctx)
}

// Shutdown stops accepting new work, waits for armed timers to fire and for
// queued tasks to finish. If ctx expires first, running tasks are cancelled
// and ctx's error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return ErrClosed
	}

	p.draining = true
	p.mu.Unlock()

	timersDone := make(chan struct{})

	go func() {
		p.timers.Wait()
		close(timersDone)
	}()

	select {
	case <-timersDone:
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}

	p.mu.Lock()
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})

	go func() {
		p.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
