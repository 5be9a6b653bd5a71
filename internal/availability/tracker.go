// Package availability caches whether the inference server is reachable so
// that chat traffic does not pay a network round trip per message.
package availability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is how often Run re-probes the server.
const DefaultInterval = 5 * time.Minute

// State is the last observed status of the server.
type State int

const (
	StateUnknown State = iota
	StateAvailable
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Prober performs one health check. Implementations must not block past their
// own timeout.
type Prober interface {
	CheckHealth(ctx context.Context) bool
}

// Tracker holds the process-wide availability cache.
type Tracker struct {
	prober   Prober
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	observers []func(from, to State)
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithInterval sets the Run probe period.
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// New creates a Tracker in StateUnknown.
func New(prober Prober, opts ...Option) *Tracker {
	t := &Tracker{
		prober:   prober,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "availability")
	return t
}

// OnTransition registers fn to be called on every state change. fn runs
// synchronously and must not call back into the Tracker.
func (t *Tracker) OnTransition(fn func(from, to State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// Refresh returns the cached status when it is known and force is false.
// Otherwise it probes the server and overwrites the cache with the result.
func (t *Tracker) Refresh(ctx context.Context, force bool) bool {
	if !force {
		t.mu.Lock()
		state := t.state
		t.mu.Unlock()
		if state != StateUnknown {
			return state == StateAvailable
		}
	}

	ok := t.prober.CheckHealth(ctx)
	if ok {
		t.set(StateAvailable)
	} else {
		t.set(StateUnavailable)
	}
	return ok
}

// MarkUnavailable records a failure observed outside of a probe, e.g. a chat
// call that could not connect.
func (t *Tracker) MarkUnavailable() {
	t.set(StateUnavailable)
}

// State returns the cached state without probing.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Available reports whether the cached state is StateAvailable.
func (t *Tracker) Available() bool {
	return t.State() == StateAvailable
}

// Run waits for ready, then probes immediately and once per interval until ctx
// is cancelled. A failing probe never stops the loop.
func (t *Tracker) Run(ctx context.Context, ready <-chan struct{}) error {
	if ready != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ready:
		}
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "availability probe stopping")
			return ctx.Err()
		case <-ticker.C:
			t.probe(ctx)
		}
	}
}

func (t *Tracker) probe(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.ErrorContext(ctx, "availability probe panicked", "error", fmt.Sprint(r))
		}
	}()
	ok := t.Refresh(ctx, true)
	t.logger.DebugContext(ctx, "availability probed", "available", ok)
}

func (t *Tracker) set(next State) {
	t.mu.Lock()
	prev := t.state
	t.state = next
	observers := append([]func(from, to State){}, t.observers...)
	t.mu.Unlock()

	if prev == next {
		return
	}
	t.logger.Info("inference availability changed", "from", prev.String(), "to", next.String())
	for _, fn := range observers {
		fn(prev, next)
	}
}
