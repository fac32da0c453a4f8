package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/sidecar/internal/shared/logger"
)

func newTestManager(t *testing.T) *SchedulerManager {
	m, err := NewSchedulerManager(logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func TestEvery_RunsRepeatedly(t *testing.T) {
	m := newTestManager(t)
	var runs atomic.Int32
	require.NoError(t, m.Every("tick", 20*time.Millisecond, 0, func(context.Context) {
		runs.Add(1)
	}))

	m.Start()
	assert.True(t, m.IsStarted())
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestEvery_Jitter(t *testing.T) {
	m := newTestManager(t)
	var runs atomic.Int32
	require.NoError(t, m.Every("jittered", 30*time.Millisecond, 10*time.Millisecond, func(context.Context) {
		runs.Add(1)
	}))

	m.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	require.Len(t, m.Jobs(), 1)
	assert.Equal(t, "jittered", m.Jobs()[0].Name())
}

func TestEvery_RejectsNonPositiveInterval(t *testing.T) {
	m := newTestManager(t)
	assert.Error(t, m.Every("bad", 0, 0, func(context.Context) {}))
}

func TestStop_CancelsJobContext(t *testing.T) {
	m, err := NewSchedulerManager(logger.NewNop())
	require.NoError(t, err)

	entered := make(chan struct{}, 1)
	cancelled := make(chan struct{})
	require.NoError(t, m.Every("blocking", 10*time.Millisecond, 0, func(ctx context.Context) {
		select {
		case entered <- struct{}{}:
		default:
			return
		}
		<-ctx.Done()
		close(cancelled)
	}))
	m.Start()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}

	require.NoError(t, m.Stop())
	assert.False(t, m.IsStarted())
	select {
	case <-cancelled:
	default:
		t.Fatal("job context was not cancelled")
	}
}

func TestStop_BeforeStartIsNoop(t *testing.T) {
	m, err := NewSchedulerManager(logger.NewNop())
	require.NoError(t, err)
	assert.NoError(t, m.Stop())
}

func TestEvery_RecoversPanics(t *testing.T) {
	m := newTestManager(t)
	var runs atomic.Int32
	require.NoError(t, m.Every("panicky", 20*time.Millisecond, 0, func(context.Context) {
		runs.Add(1)
		panic("boom")
	}))

	m.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}
