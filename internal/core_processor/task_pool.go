package core_processor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/omnirouter/internal/logging"
)

var (
	// ErrQueueFull is returned when every worker is busy and the queue is at capacity.
	ErrQueueFull = errors.New("task queue is full")
	// ErrPoolStopped is returned for submissions after Stop.
	ErrPoolStopped = errors.New("task pool is stopped")
)

// Task is one unit of supervised background work.
type Task func(ctx context.Context)

// TaskPool runs tasks on a fixed number of workers fed by a bounded queue.
type TaskPool struct {
	workers int
	tasks   chan Task
	logger  logging.Logger

	mu      sync.RWMutex
	stopped bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewTaskPool(workers, queueSize int, logger logging.Logger) *TaskPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &TaskPool{
		workers: workers,
		tasks:   make(chan Task, queueSize),
		logger:  logging.OrNop(logger),
	}
}

// Start launches the workers. Tasks run with a context derived from ctx, never from the
// request that submitted them.
func (p *TaskPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
}

func (p *TaskPool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(ctx, id, task)
	}
}

func (p *TaskPool) run(ctx context.Context, id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker", id).
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("task panicked")
		}
	}()
	task(ctx)
}

// Submit enqueues a task without blocking.
func (p *TaskPool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending is the number of queued tasks not yet picked up by a worker.
func (p *TaskPool) Pending() int {
	return len(p.tasks)
}

// Stop refuses new tasks and waits for queued ones to drain. When ctx expires first the
// running tasks' context is cancelled and ctx.Err() is returned.
func (p *TaskPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
