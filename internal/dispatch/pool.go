// Package dispatch runs background work on a bounded queue drained by a fixed set of workers.
//
// Submission never blocks: when the queue is full the item is dropped and reported. Workers
// recover panics and log handler errors, so a failing task never takes the process down.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Submit after Shutdown has begun.
var ErrClosed = errors.New("dispatch: pool closed")

// ErrQueueFull is returned by Submit when the queue has no free slot.
var ErrQueueFull = errors.New("dispatch: queue full")

// Handler processes one queued item. The context is cancelled only when shutdown times out.
type Handler[T any] func(ctx context.Context, item T) error

// Hooks observe pool activity. Nil hooks are skipped.
type Hooks struct {
	OnDrop  func()
	OnDone  func(elapsed time.Duration, err error)
	OnPanic func(recovered any)
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Submitted int64
	Dropped   int64
	Completed int64
	Failed    int64
	Panicked  int64
	Queued    int
}

// Pool is a bounded queue with N workers.
type Pool[T any] struct {
	name    string
	workers int
	handler Handler[T]
	hooks   Hooks
	log     *slog.Logger

	queue chan T

	mu      sync.RWMutex
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submitted atomic.Int64
	dropped   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
}

// New constructs a pool. Non-positive workers or queueSize fall back to 1.
func New[T any](name string, workers, queueSize int, handler Handler[T], log *slog.Logger, hooks Hooks) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[T]{
		name:    name,
		workers: workers,
		handler: handler,
		hooks:   hooks,
		log:     log.With("component", "dispatch", "pool", name),
		queue:   make(chan T, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling Start more than once has no effect.
func (p *Pool[T]) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.worker(i)
	}
	p.log.Info("dispatch pool started", "workers", p.workers, "queue", cap(p.queue))
}

// Submit enqueues item without blocking.
func (p *Pool[T]) Submit(item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop()
		return ErrClosed
	}
	select {
	case p.queue <- item:
		p.submitted.Add(1)
		return nil
	default:
		p.drop()
		return ErrQueueFull
	}
}

func (p *Pool[T]) drop() {
	p.dropped.Add(1)
	if p.hooks.OnDrop != nil {
		p.hooks.OnDrop()
	}
}

// Shutdown stops accepting work and waits for queued items to drain. When ctx ends first the
// handlers' context is cancelled and ctx.Err() is returned.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	close(p.queue)
	p.mu.Unlock()

	if !started {
		p.cancel()
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
		p.log.Info("dispatch pool drained", "completed", p.completed.Load(), "failed", p.failed.Load())
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		p.log.Warn("dispatch pool shutdown interrupted", "error", ctx.Err())
		return ctx.Err()
	}
}

// Stats returns the current counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Dropped:   p.dropped.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
		Queued:    len(p.queue),
	}
}

func (p *Pool[T]) worker(id int) {
	defer p.wg.Done()
	for item := range p.queue {
		p.run(id, item)
	}
}

func (p *Pool[T]) run(id int, item T) {
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			err = fmt.Errorf("dispatch: handler panic: %v", r)
			p.log.Error("dispatch handler panic", "worker", id, "panic", r)
			if p.hooks.OnPanic != nil {
				p.hooks.OnPanic(r)
			}
		}
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		if p.hooks.OnDone != nil {
			p.hooks.OnDone(time.Since(start), err)
		}
	}()
	if err = p.handler(p.ctx, item); err != nil {
		p.log.Warn("dispatch handler failed", "worker", id, "error", err)
	}
}
