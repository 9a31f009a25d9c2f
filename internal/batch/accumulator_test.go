package batch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector is a test handler that records emitted batches.
type collector struct {
	mu      sync.Mutex
	batches []*Batch[int]
}

func (c *collector) handle(b *Batch[int]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *collector) batch(i int) *Batch[int] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[i]
}

func TestAddEmitsFullBatch(t *testing.T) {
	var col collector
	acc := New[int](Config{BatchSize: 3}, col.handle)

	for i := 0; i < 3; i++ {
		require.True(t, acc.Add(i))
	}

	require.Equal(t, 1, col.count())
	b := col.batch(0)
	assert.Equal(t, []int{0, 1, 2}, b.Items)
	assert.Equal(t, "upsert", b.Type)
	assert.Contains(t, b.ID, "upsert-1-")
	assert.Equal(t, 0, acc.Pending())
}

func TestTimerFlushesPartialBatch(t *testing.T) {
	var col collector
	acc := New[int](Config{BatchSize: 100, MinBatchSize: 1, FlushTimeout: 20 * time.Millisecond}, col.handle)

	acc.Add(7)
	assert.Eventually(t, func() bool { return col.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{7}, col.batch(0).Items)
}

func TestDeferredFlushBelowMinimum(t *testing.T) {
	var col collector
	acc := New[int](Config{BatchSize: 100, MinBatchSize: 10, FlushTimeout: 10 * time.Millisecond}, col.handle)

	acc.Add(1)

	// First tick defers (1 < 10); three defers at 50ms each pass before the
	// forced flush, so nothing is emitted for at least ~150ms.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, col.count())

	// After the 3rd defer the 4th tick force-flushes even though still
	// below minimum.
	assert.Eventually(t, func() bool { return col.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{1}, col.batch(0).Items)
}

func TestManualFlushCancelsTimer(t *testing.T) {
	var col collector
	acc := New[int](Config{BatchSize: 100, MinBatchSize: 1, FlushTimeout: 30 * time.Millisecond}, col.handle)

	acc.Add(1)
	acc.Flush()
	require.Equal(t, 1, col.count())

	// No second (timer-driven) emit arrives afterwards.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, col.count())
}

func TestClearDiscardsWithoutEmitting(t *testing.T) {
	var col collector
	acc := New[int](Config{BatchSize: 100, MinBatchSize: 1, FlushTimeout: 20 * time.Millisecond}, col.handle)

	acc.Add(1)
	acc.Add(2)
	acc.Clear()
	assert.Equal(t, 0, acc.Pending())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, col.count())
}

func TestPauseResume(t *testing.T) {
	var col collector
	var transitions []bool
	acc := New[int](Config{BatchSize: 10}, col.handle)
	acc.OnBackpressure(func(paused bool) { transitions = append(transitions, paused) })

	acc.Pause()
	acc.Pause() // idempotent: no second callback
	assert.False(t, acc.Add(1))

	acc.Resume()
	acc.Resume()
	assert.True(t, acc.Add(1))

	assert.Equal(t, []bool{true, false}, transitions)
}

func TestAddManyStopsAtQueueLimit(t *testing.T) {
	var col collector
	acc := New[int](Config{BatchSize: 100, MaxQueueSize: 3}, col.handle)

	n := acc.AddMany([]int{1, 2, 3, 4, 5})
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, acc.Pending())
}

func TestFlushEmptyBufferIsNoop(t *testing.T) {
	var col collector
	acc := New[int](Config{BatchSize: 10}, col.handle)
	acc.Flush()
	acc.Drain()
	assert.Equal(t, 0, col.count())
}

func TestBatchSequenceNumbers(t *testing.T) {
	var col collector
	acc := New[int](Config{BatchSize: 2}, col.handle)

	for i := 0; i < 6; i++ {
		acc.Add(i)
	}
	require.Equal(t, 3, col.count())
	assert.Contains(t, col.batch(1).ID, "upsert-2-")
	assert.Contains(t, col.batch(2).ID, "upsert-3-")
}
