package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalSchedulerRunsImmediatelyAndRepeats(t *testing.T) {
	s := NewIntervalScheduler(10*time.Millisecond, time.UTC)

	var runs atomic.Int32
	require.NoError(t, s.Start(context.Background(), func(time.Time) { runs.Add(1) }))

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "job ran after stop")
}

func TestIntervalSchedulerStopsWithContext(t *testing.T) {
	s := NewIntervalScheduler(time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan time.Time, 1)
	require.NoError(t, s.Start(ctx, func(t time.Time) { started <- t }))

	select {
	case at := <-started:
		assert.Equal(t, time.UTC, at.Location())
	case <-time.After(time.Second):
		t.Fatal("job did not run immediately")
	}

	cancel()
	assert.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, s.Stop(context.Background()), "second stop is a no-op")
}
