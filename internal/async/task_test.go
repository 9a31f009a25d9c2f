package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRunsAndRecordsError(t *testing.T) {
	boom := errors.New("boom")
	task := NewTask("failing", func(ctx context.Context) error { return boom })

	task.Start(context.Background())
	assert.ErrorIs(t, task.Wait(context.Background()), boom)
	assert.ErrorIs(t, task.Err(), boom)
	assert.False(t, task.Running())
}

func TestTaskStopCancels(t *testing.T) {
	started := make(chan struct{})
	task := NewTask("blocking", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	task.Start(context.Background())
	<-started
	assert.True(t, task.Running())

	task.Stop()
	assert.False(t, task.Running())
	assert.ErrorIs(t, task.Err(), context.Canceled)
}

func TestTaskStartWhileRunningIsNoop(t *testing.T) {
	release := make(chan struct{})
	runs := make(chan struct{}, 2)
	task := NewTask("once", func(ctx context.Context) error {
		runs <- struct{}{}
		<-release
		return nil
	})

	task.Start(context.Background())
	task.Start(context.Background())
	close(release)
	require.NoError(t, task.Wait(context.Background()))
	assert.Len(t, runs, 1)
}

func TestTaskWaitTimeout(t *testing.T) {
	task := NewTask("slow", func(ctx context.Context) error {
		select {
		case <-time.After(time.Minute):
		case <-ctx.Done():
		}
		return nil
	})
	task.Start(context.Background())
	defer task.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, task.Wait(ctx), context.DeadlineExceeded)
}

func TestProgressCounters(t *testing.T) {
	p := NewProgress()
	p.SetPhase("blame")
	p.SetTotal(10)
	p.Add(3)
	p.Add(2)
	p.Fail(1)

	snap := p.Snapshot()
	assert.Equal(t, 10, snap.Total)
	assert.Equal(t, 5, snap.Processed)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, "blame", snap.Phase)
}
