package availability_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Pikol/internal/availability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	calls atomic.Int32
	up    atomic.Bool
	panic atomic.Bool
}

func (p *fakeProber) CheckHealth(context.Context) bool {
	p.calls.Add(1)
	if p.panic.Load() {
		panic("probe exploded")
	}
	return p.up.Load()
}

func TestRefresh_UnknownProbes(t *testing.T) {
	prober := &fakeProber{}
	prober.up.Store(true)
	tracker := availability.New(prober)

	assert.Equal(t, availability.StateUnknown, tracker.State())
	assert.True(t, tracker.Refresh(context.Background(), false))
	assert.Equal(t, int32(1), prober.calls.Load())
	assert.Equal(t, availability.StateAvailable, tracker.State())
}

func TestRefresh_CachedWhenKnown(t *testing.T) {
	for _, up := range []bool{true, false} {
		prober := &fakeProber{}
		prober.up.Store(up)
		tracker := availability.New(prober)
		ctx := context.Background()

		require.Equal(t, up, tracker.Refresh(ctx, true))
		prober.up.Store(!up)

		for i := 0; i < 5; i++ {
			assert.Equal(t, up, tracker.Refresh(ctx, false))
		}
		assert.Equal(t, int32(1), prober.calls.Load(), "cached refresh must not probe")
	}
}

func TestRefresh_ForceAlwaysProbes(t *testing.T) {
	prober := &fakeProber{}
	tracker := availability.New(prober)
	ctx := context.Background()

	assert.False(t, tracker.Refresh(ctx, true))
	prober.up.Store(true)
	assert.True(t, tracker.Refresh(ctx, true))
	assert.True(t, tracker.Refresh(ctx, true))
	assert.Equal(t, int32(3), prober.calls.Load())
}

func TestMarkUnavailable_ShortCircuits(t *testing.T) {
	prober := &fakeProber{}
	prober.up.Store(true)
	tracker := availability.New(prober)
	ctx := context.Background()

	require.True(t, tracker.Refresh(ctx, true))
	tracker.MarkUnavailable()

	assert.False(t, tracker.Refresh(ctx, false))
	assert.False(t, tracker.Available())
	assert.Equal(t, int32(1), prober.calls.Load())
}

func TestOnTransition_EdgesOnly(t *testing.T) {
	prober := &fakeProber{}
	tracker := availability.New(prober)
	ctx := context.Background()

	var mu sync.Mutex
	var edges [][2]availability.State
	tracker.OnTransition(func(from, to availability.State) {
		mu.Lock()
		defer mu.Unlock()
		edges = append(edges, [2]availability.State{from, to})
	})

	tracker.Refresh(ctx, true) // unknown -> unavailable
	tracker.Refresh(ctx, true) // no change
	prober.up.Store(true)
	tracker.Refresh(ctx, true) // unavailable -> available
	tracker.MarkUnavailable()  // available -> unavailable

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][2]availability.State{
		{availability.StateUnknown, availability.StateUnavailable},
		{availability.StateUnavailable, availability.StateAvailable},
		{availability.StateAvailable, availability.StateUnavailable},
	}, edges)
}

func TestRun_WaitsForReadyThenProbes(t *testing.T) {
	prober := &fakeProber{}
	prober.up.Store(true)
	tracker := availability.New(prober, availability.WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx, ready) }()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, prober.calls.Load(), "no probe before ready")

	close(ready)
	assert.Eventually(t, func() bool { return prober.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, tracker.Available())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_SurvivesPanickingProbe(t *testing.T) {
	prober := &fakeProber{}
	prober.panic.Store(true)
	tracker := availability.New(prober, availability.WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tracker.Run(ctx, nil) }()

	assert.Eventually(t, func() bool { return prober.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	prober.panic.Store(false)
	prober.up.Store(true)
	assert.Eventually(t, tracker.Available, time.Second, 5*time.Millisecond)
}

func TestRun_CancelBeforeReady(t *testing.T) {
	tracker := availability.New(&fakeProber{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tracker.Run(ctx, make(chan struct{}))
	assert.ErrorIs(t, err, context.Canceled)
}
