// Package batch accumulates work items into size- and time-bounded batches.
// A full buffer emits synchronously; a partial buffer is emitted by a flush
// timer with a minimum-batch defer policy, so trickling producers still get
// reasonably sized batches without unbounded latency.
package batch

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

const (
	// deferDelay is how long a below-minimum flush is postponed.
	deferDelay = 50 * time.Millisecond

	// maxDefers is how many times a below-minimum flush may be postponed
	// before the buffer is force-flushed regardless of size.
	maxDefers = 3
)

// Batch is one unit of accumulated work handed to the downstream handler.
type Batch[T any] struct {
	ID        string
	Type      string
	Items     []T
	CreatedAt time.Time
}

// Handler receives emitted batches. It is invoked synchronously from the
// goroutine that triggered the emit (an Add that filled the buffer, a timer
// tick, or a manual Flush), never with the accumulator lock held.
type Handler[T any] func(*Batch[T])

// Config tunes an Accumulator.
type Config struct {
	// BatchSize is the buffer size that triggers a synchronous emit.
	BatchSize int

	// MinBatchSize is the smallest buffer the flush timer will emit without
	// deferring. Zero means half of BatchSize.
	MinBatchSize int

	// FlushTimeout emits whatever is buffered once no full batch has formed
	// for this long. Zero disables timed flushes.
	FlushTimeout time.Duration

	// MaxQueueSize bounds the buffer; Add returns false beyond it.
	// Zero means unbounded.
	MaxQueueSize int

	// BatchType labels emitted batches ("upsert" if empty).
	BatchType string
}

// Accumulator collects items and emits them in batches. Safe for concurrent
// use by multiple producers.
type Accumulator[T any] struct {
	cfg     Config
	handler Handler[T]

	mu       sync.Mutex
	buf      []T
	seq      int
	timer    *time.Timer
	timerGen int // invalidates stale timer callbacks
	defers   int
	paused   bool

	onBackpressure func(paused bool)
}

// New creates an accumulator delivering batches to handler.
func New[T any](cfg Config, handler Handler[T]) *Accumulator[T] {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = cfg.BatchSize / 2
	}
	if cfg.BatchType == "" {
		cfg.BatchType = "upsert"
	}
	return &Accumulator[T]{cfg: cfg, handler: handler}
}

// OnBackpressure registers a callback invoked once per pause/resume
// transition with the new paused state.
func (a *Accumulator[T]) OnBackpressure(fn func(paused bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onBackpressure = fn
}

// Add appends one item. Returns false when the accumulator is paused or the
// buffer is at MaxQueueSize. A buffer reaching BatchSize emits synchronously.
func (a *Accumulator[T]) Add(item T) bool {
	a.mu.Lock()
	if a.paused || (a.cfg.MaxQueueSize > 0 && len(a.buf) >= a.cfg.MaxQueueSize) {
		a.mu.Unlock()
		return false
	}
	a.buf = append(a.buf, item)
	if len(a.buf) >= a.cfg.BatchSize {
		b := a.takeLocked()
		a.mu.Unlock()
		a.emit(b)
		return true
	}
	if a.timer == nil && a.cfg.FlushTimeout > 0 {
		a.armTimerLocked(a.cfg.FlushTimeout)
	}
	a.mu.Unlock()
	return true
}

// AddMany appends items until one is rejected, returning how many were
// accepted.
func (a *Accumulator[T]) AddMany(items []T) int {
	for i, item := range items {
		if !a.Add(item) {
			return i
		}
	}
	return len(items)
}

// Flush cancels any pending timer and emits the current buffer as one batch,
// even if partial.
func (a *Accumulator[T]) Flush() {
	a.mu.Lock()
	a.cancelTimerLocked()
	b := a.takeLocked()
	a.mu.Unlock()
	a.emit(b)
}

// Drain flushes and leaves the accumulator empty and idle.
func (a *Accumulator[T]) Drain() {
	a.Flush()
}

// Clear cancels any pending timer and discards the buffer without emitting.
func (a *Accumulator[T]) Clear() {
	a.mu.Lock()
	a.cancelTimerLocked()
	a.buf = nil
	a.mu.Unlock()
}

// Pause makes subsequent Adds return false. Idempotent; the backpressure
// callback fires only on the unpaused->paused transition.
func (a *Accumulator[T]) Pause() {
	a.setPaused(true)
}

// Resume re-enables Adds. Idempotent, mirroring Pause.
func (a *Accumulator[T]) Resume() {
	a.setPaused(false)
}

// Paused reports whether the accumulator currently rejects Adds.
func (a *Accumulator[T]) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

// Pending returns the current buffer length.
func (a *Accumulator[T]) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

func (a *Accumulator[T]) setPaused(paused bool) {
	a.mu.Lock()
	if a.paused == paused {
		a.mu.Unlock()
		return
	}
	a.paused = paused
	fn := a.onBackpressure
	a.mu.Unlock()
	if fn != nil {
		fn(paused)
	}
}

// armTimerLocked schedules a tick after d. Caller holds a.mu.
func (a *Accumulator[T]) armTimerLocked(d time.Duration) {
	a.timerGen++
	gen := a.timerGen
	a.timer = time.AfterFunc(d, func() { a.onTick(gen) })
}

// cancelTimerLocked stops the pending timer and resets the defer count.
// Caller holds a.mu.
func (a *Accumulator[T]) cancelTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.timerGen++
	a.defers = 0
}

func (a *Accumulator[T]) onTick(gen int) {
	a.mu.Lock()
	if gen != a.timerGen {
		// A manual flush/drain/clear (or a full-buffer emit) superseded
		// this tick.
		a.mu.Unlock()
		return
	}
	a.timer = nil
	if len(a.buf) == 0 {
		a.defers = 0
		a.mu.Unlock()
		return
	}
	if len(a.buf) < a.cfg.MinBatchSize && a.defers < maxDefers {
		a.defers++
		a.armTimerLocked(deferDelay)
		a.mu.Unlock()
		return
	}
	a.defers = 0
	b := a.takeLocked()
	a.mu.Unlock()
	a.emit(b)
}

// takeLocked drains the buffer into a batch, or returns nil when empty.
// Caller holds a.mu; any armed timer is invalidated.
func (a *Accumulator[T]) takeLocked() *Batch[T] {
	if len(a.buf) == 0 {
		return nil
	}
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.timerGen++
	a.defers = 0
	a.seq++
	b := &Batch[T]{
		ID:        fmt.Sprintf("%s-%d-%s", a.cfg.BatchType, a.seq, randSuffix()),
		Type:      a.cfg.BatchType,
		Items:     a.buf,
		CreatedAt: time.Now(),
	}
	a.buf = nil
	return b
}

func (a *Accumulator[T]) emit(b *Batch[T]) {
	if b == nil || a.handler == nil {
		return
	}
	a.handler(b)
}

func randSuffix() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b[:])
}
