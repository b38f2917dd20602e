package render

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	c, err := NewController(ControllerConfig{
		Host:     fakeHost{pitch: true},
		MaxFPS:   DefaultMaxFPS,
		Watchdog: time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestController_RunReportsProgress(t *testing.T) {
	c := newTestController(t)
	snap := NewExportSession(Clip{ID: "c1", Duration: 2}, TrimRange{}, 1, DefaultPlayback(), EntitlementState{})

	var states []State
	var last float64
	out, err := c.Run(context.Background(), Job{
		Snapshot: snap,
		Source:   newFakeSource(2),
		Sink:     &fakeSink{},
		Progress: func(st State, p float64) {
			if len(states) == 0 || states[len(states)-1] != st {
				states = append(states, st)
			}
			assert.GreaterOrEqual(t, p, last)
			last = p
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 60, out.Frames)
	assert.Equal(t, []State{StatePreparing, StateRecording, StateComplete}, states)
	assert.Equal(t, 1.0, last)
	assert.False(t, c.Busy())
}

func TestController_FailureReportsFailedState(t *testing.T) {
	c := newTestController(t)
	snap := NewExportSession(Clip{ID: "c1", Duration: 2}, TrimRange{}, 0, DefaultPlayback(), EntitlementState{})

	var final State
	_, err := c.Run(context.Background(), Job{
		Snapshot: snap,
		Source:   newFakeSource(2),
		Sink:     &fakeSink{startErr: ErrNoEncoder},
		Progress: func(st State, p float64) { final = st },
	})
	assert.Equal(t, KindEncoding, ErrorKind(err))
	assert.Equal(t, StateFailed, final)
	assert.False(t, c.Busy())
}

func TestController_BusyAndCancel(t *testing.T) {
	c := newTestController(t)
	snap := NewExportSession(Clip{ID: "c1", Duration: 600}, TrimRange{}, 0, DefaultPlayback(), EntitlementState{Premium: true})

	src := newFakeSource(600)
	src.frameDelay = time.Millisecond
	sink := &fakeSink{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	var out *Output
	var runErr error
	var recording atomic.Bool
	progress := func(st State, fraction float64) {
		if fraction > 0 {
			recording.Store(true)
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		out, runErr = c.Run(ctx, Job{Snapshot: snap, Source: src, Sink: sink, Progress: progress})
	}()

	require.Eventually(t, c.Busy, time.Second, 5*time.Millisecond)

	other := newFakeSource(1)
	_, err := c.Run(context.Background(), Job{Snapshot: snap, Source: other, Sink: &fakeSink{}})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, 0, other.closed)

	require.Eventually(t, recording.Load, 5*time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()

	require.NoError(t, runErr)
	require.NotNil(t, out)
	assert.True(t, out.Aborted)
	assert.True(t, out.Truncated)
	assert.Less(t, out.Frames, 600*30)
	assert.Equal(t, 1, sink.stopped)
	assert.Equal(t, 0, sink.discarded)
	assert.False(t, c.Busy())
}

func TestController_RejectsIncompleteJob(t *testing.T) {
	c := newTestController(t)
	_, err := c.Run(context.Background(), Job{Source: newFakeSource(1)})
	assert.Error(t, err)
}
