package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExpiryNotice is sent to a channel whose session timed out.
const ExpiryNotice = "💤 *Pikol got bored waiting and wandered off for a nap...* Roleplay session ended due to inactivity."

// DefaultSweepInterval is how often the Sweeper looks for idle sessions.
const DefaultSweepInterval = 5 * time.Minute

// Notifier delivers a plain text message to a channel.
type Notifier interface {
	Notify(ctx context.Context, channelID, text string) error
}

// Sweeper periodically expires idle sessions and tells their channels.
type Sweeper struct {
	registry *Registry
	notifier Notifier
	interval time.Duration
	logger   *slog.Logger
}

// SweeperOption customizes a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets the sweep period.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSweepLogger sets the logger.
func WithSweepLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = logger }
}

// NewSweeper creates a Sweeper over registry.
func NewSweeper(registry *Registry, notifier Notifier, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		registry: registry,
		notifier: notifier,
		interval: DefaultSweepInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session.sweeper")
	return s
}

// Run waits for ready and then sweeps once per interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, ready <-chan struct{}) error {
	if ready != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ready:
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "session sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the channels whose sessions expired.
func (s *Sweeper) Sweep(ctx context.Context) (expired []string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "session sweep panicked", "error", fmt.Sprint(r))
		}
	}()

	expired = s.registry.SweepExpired()
	for _, channelID := range expired {
		if err := s.notifier.Notify(ctx, channelID, ExpiryNotice); err != nil {
			s.logger.WarnContext(ctx, "failed to send expiry notice", "channel_id", channelID, "error", err)
		}
	}
	if len(expired) > 0 {
		s.logger.InfoContext(ctx, "expired idle sessions", "count", len(expired))
	}
	return expired
}
