package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Pikol/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string][]string
	fail map[string]bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: map[string][]string{}, fail: map[string]bool{}}
}

func (n *recordingNotifier) Notify(_ context.Context, channelID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent[channelID] = append(n.sent[channelID], text)
	if n.fail[channelID] {
		return errors.New("channel gone")
	}
	return nil
}

func (n *recordingNotifier) count(channelID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent[channelID])
}

func TestSweep_NotifiesEachExpiredChannel(t *testing.T) {
	clock := newFakeClock()
	reg := session.NewRegistry(upChecker(), session.WithClock(clock.Now), session.WithTimeout(time.Minute))
	notifier := newRecordingNotifier()
	notifier.fail["a"] = true
	sweeper := session.NewSweeper(reg, notifier)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := reg.Start(ctx, id, "p")
		require.NoError(t, err)
	}
	clock.Advance(2 * time.Minute)

	expired := sweeper.Sweep(ctx)
	assert.Equal(t, []string{"a", "b"}, expired)
	assert.Equal(t, 1, notifier.count("a"), "a failed send still counts as attempted")
	assert.Equal(t, []string{session.ExpiryNotice}, notifier.sent["b"], "failure on a must not stop b")
	assert.Zero(t, reg.Len())

	assert.Empty(t, sweeper.Sweep(ctx))
	assert.Equal(t, 1, notifier.count("b"))
}

func TestSweeperRun_WaitsForReady(t *testing.T) {
	clock := newFakeClock()
	reg := session.NewRegistry(upChecker(), session.WithClock(clock.Now), session.WithTimeout(time.Minute))
	notifier := newRecordingNotifier()
	sweeper := session.NewSweeper(reg, notifier, session.WithSweepInterval(5*time.Millisecond))

	_, err := reg.Start(context.Background(), "c1", "p")
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx, ready) }()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, reg.Len(), "no sweep before ready")

	close(ready)
	assert.Eventually(t, func() bool { return notifier.count("c1") == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
