// Package async supervises fire-and-forget background work. A Task runs
// one function in a goroutine, records its error instead of propagating it,
// and supports cooperative stop — the pattern the indexer uses for git
// enrichment, whose failure must never fail an indexing run.
package async

import (
	"context"
	"sync"
)

// TaskFunc is the work a Task runs. It should return promptly once ctx is
// cancelled.
type TaskFunc func(ctx context.Context) error

// Task supervises one background function.
type Task struct {
	name string
	fn   TaskFunc

	mu      sync.Mutex
	running bool
	err     error
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewTask creates a task that will run fn when started.
func NewTask(name string, fn TaskFunc) *Task {
	return &Task{name: name, fn: fn}
}

// Name returns the task's label.
func (t *Task) Name() string { return t.name }

// Start launches the task. Starting a running task is a no-op.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.running = true
	t.err = nil
	t.cancel = cancel
	t.doneCh = make(chan struct{})

	go func() {
		err := t.fn(runCtx)
		t.mu.Lock()
		t.running = false
		t.err = err
		t.mu.Unlock()
		cancel()
		close(t.doneCh)
	}()
}

// Stop cancels the task and waits for it to finish.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	done := t.doneCh
	running := t.running
	t.mu.Unlock()
	if !running || cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the task finishes or ctx is done, returning the task's
// error.
func (t *Task) Wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.doneCh
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the task is still in flight.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Err returns the error from the last completed run, nil while running.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
