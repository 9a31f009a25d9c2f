// Package workerpool executes batches with bounded concurrency and
// exponential-backoff retry. It is the single bounded executor every other
// concurrent region of the indexing pipeline is expressed in terms of:
// submissions enqueue synchronously, results resolve later through a future.
package workerpool

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/artk0de/TeaRAGs-MCP-sub002/internal/batch"
)

// ErrShuttingDown is returned by Submit after Shutdown or ForceShutdown.
var ErrShuttingDown = errors.New("workerpool: shutting down")

// errForceShutdown is the failure every queued batch resolves with on
// ForceShutdown. The future resolves rather than "rejecting" so waiters
// always receive a Result.
var errForceShutdown = errors.New("WorkerPool force shutdown")

// Config tunes a Pool.
type Config struct {
	// Concurrency is the number of batches that may be in flight at once.
	Concurrency int

	// MaxRetries is how many times a failing batch is retried before its
	// result resolves with Success=false.
	MaxRetries int

	// RetryBaseDelay seeds the exponential backoff schedule.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the backoff schedule.
	RetryMaxDelay time.Duration
}

// Handler executes one batch. A nil return resolves the batch's future with
// Success=true; an error schedules a retry or, once retries are exhausted,
// resolves with Success=false.
type Handler[T any] func(ctx context.Context, b *batch.Batch[T]) error

// Result is the terminal outcome of one submitted batch.
type Result struct {
	BatchID    string
	Success    bool
	Error      error
	RetryCount int
	Elapsed    time.Duration
}

// Future resolves exactly once with the batch's Result.
type Future struct {
	ch chan Result
}

// Wait blocks until the result is available or ctx is done.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case r := <-f.ch:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Done exposes the underlying channel for select loops.
func (f *Future) Done() <-chan Result {
	return f.ch
}

type task[T any] struct {
	ctx     context.Context
	batch   *batch.Batch[T]
	handler Handler[T]
	retries int
	started time.Time
	future  *Future
}

// Pool runs batches with at most Concurrency handlers in flight. Queued
// batches dispatch FIFO; a failed batch re-enters at the head of the queue
// once its backoff timer fires, so it is retried before newer work without
// starving peers already running.
type Pool[T any] struct {
	cfg Config

	mu           sync.Mutex
	cond         *sync.Cond
	queue        []*task[T]
	active       int
	waitingRetry int
	shuttingDown bool
	retryTimers  map[*time.Timer]*task[T]

	onCompletion  func(Result)
	onQueueChange func(depth int)
}

// New creates a pool. Concurrency below 1 is treated as 1.
func New[T any](cfg Config) *Pool[T] {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	p := &Pool[T]{cfg: cfg, retryTimers: make(map[*time.Timer]*task[T])}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// OnCompletion registers a callback invoked after every batch resolves,
// success or failure.
func (p *Pool[T]) OnCompletion(fn func(Result)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCompletion = fn
}

// OnQueueChange registers a callback invoked with the queue depth whenever
// it changes. Used by the pipeline for backpressure.
func (p *Pool[T]) OnQueueChange(fn func(depth int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onQueueChange = fn
}

// QueueDepth returns the number of batches waiting to dispatch.
func (p *Pool[T]) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Submit enqueues a batch. The returned future resolves when the batch
// succeeds, exhausts its retries, or the pool is force-shut-down.
func (p *Pool[T]) Submit(ctx context.Context, b *batch.Batch[T], handler Handler[T]) (*Future, error) {
	t := &task[T]{
		ctx:     ctx,
		batch:   b,
		handler: handler,
		started: time.Now(),
		future:  &Future{ch: make(chan Result, 1)},
	}

	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return nil, ErrShuttingDown
	}
	p.queue = append(p.queue, t)
	p.notifyQueueLocked()
	p.dispatchLocked()
	p.mu.Unlock()

	return t.future, nil
}

// dispatchLocked starts queued tasks while worker slots are free.
// Caller holds p.mu.
func (p *Pool[T]) dispatchLocked() {
	for p.active < p.cfg.Concurrency && len(p.queue) > 0 {
		t := p.queue[0]
		p.queue = p.queue[1:]
		p.active++
		p.notifyQueueLocked()
		go p.run(t)
	}
}

func (p *Pool[T]) run(t *task[T]) {
	err := t.ctx.Err()
	if err == nil {
		err = t.handler(t.ctx, t.batch)
	}

	p.mu.Lock()
	p.active--

	if err != nil && t.retries < p.cfg.MaxRetries && t.ctx.Err() == nil && !p.shuttingDown {
		t.retries++
		delay := p.retryDelay(t.retries)
		p.waitingRetry++
		var timer *time.Timer
		timer = time.AfterFunc(delay, func() { p.requeue(t, timer) })
		p.retryTimers[timer] = t
		p.dispatchLocked()
		p.cond.Broadcast()
		p.mu.Unlock()
		return
	}

	p.resolveLocked(t, err)
	p.dispatchLocked()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// requeue re-inserts a task at the head of the queue after its backoff.
func (p *Pool[T]) requeue(t *task[T], timer *time.Timer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, live := p.retryTimers[timer]; !live {
		// ForceShutdown already resolved this task.
		return
	}
	delete(p.retryTimers, timer)
	p.waitingRetry--
	p.queue = append([]*task[T]{t}, p.queue...)
	p.notifyQueueLocked()
	p.dispatchLocked()
	p.cond.Broadcast()
}

// resolveLocked delivers the task's terminal result. Caller holds p.mu.
func (p *Pool[T]) resolveLocked(t *task[T], err error) {
	r := Result{
		BatchID:    t.batch.ID,
		Success:    err == nil,
		Error:      err,
		RetryCount: t.retries,
		Elapsed:    time.Since(t.started),
	}
	t.future.ch <- r
	if p.onCompletion != nil {
		fn := p.onCompletion
		go fn(r)
	}
}

// retryDelay computes min(max, base * 2^(retry-1) * (1 + uniform(0, 0.3))).
func (p *Pool[T]) retryDelay(retry int) time.Duration {
	d := float64(p.cfg.RetryBaseDelay) * float64(uint64(1)<<uint(retry-1))
	d *= 1 + rand.Float64()*0.3
	if d > float64(p.cfg.RetryMaxDelay) {
		d = float64(p.cfg.RetryMaxDelay)
	}
	return time.Duration(d)
}

func (p *Pool[T]) notifyQueueLocked() {
	if p.onQueueChange != nil {
		fn := p.onQueueChange
		depth := len(p.queue)
		go fn(depth)
	}
}

// Drain blocks until the queue is empty, no handler is running, and no
// retry is pending, or until ctx is done.
func (p *Pool[T]) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for len(p.queue) > 0 || p.active > 0 || p.waitingRetry > 0 {
			p.cond.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Wake the waiter so its goroutine exits eventually.
		p.cond.Broadcast()
		return ctx.Err()
	}
}

// Shutdown rejects further submissions and drains in-flight work.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.shuttingDown = true
	p.mu.Unlock()
	return p.Drain(ctx)
}

// ForceShutdown rejects further submissions and resolves every queued or
// retry-waiting batch with Success=false. Handlers already running are left
// to finish; their results resolve normally.
func (p *Pool[T]) ForceShutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shuttingDown = true

	for timer, t := range p.retryTimers {
		timer.Stop()
		delete(p.retryTimers, timer)
		p.resolveLocked(t, errForceShutdown)
	}

	for _, t := range p.queue {
		p.resolveLocked(t, errForceShutdown)
	}
	p.queue = nil
	p.waitingRetry = 0
	p.notifyQueueLocked()
	p.cond.Broadcast()
}
