package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultTimeout is the idle period after which a session expires.
const DefaultTimeout = 1800 * time.Second

var (
	// ErrAlreadyActive is returned by Start when the channel already has a session.
	ErrAlreadyActive = errors.New("roleplay session already active")
	// ErrNotFound is returned by End when the channel has no session.
	ErrNotFound = errors.New("no roleplay session")
	// ErrServiceDown is returned by Start when a forced availability check fails.
	ErrServiceDown = errors.New("inference service unavailable")
)

// AvailabilityChecker is the part of availability.Tracker the registry needs.
type AvailabilityChecker interface {
	Refresh(ctx context.Context, force bool) bool
}

// RemoveReason says why a session left the registry.
type RemoveReason string

const (
	RemovedEnded   RemoveReason = "ended"
	RemovedExpired RemoveReason = "expired"
)

// Info is a read-only view of a tracked session.
type Info struct {
	ID           string    `json:"id"`
	ChannelID    string    `json:"channel_id"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	Turns        int       `json:"turns"`
}

// Registry owns every live Session, keyed by channel. At most one session
// exists per channel.
type Registry struct {
	checker  AvailabilityChecker
	maxPairs int
	timeout  time.Duration
	clock    func() time.Time
	onRemove []func(*Session, RemoveReason)
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithMaxHistoryPairs bounds each session's history.
func WithMaxHistoryPairs(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxPairs = n
		}
	}
}

// WithTimeout sets the idle expiry period.
func WithTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) { r.clock = clock }
}

// WithRemoveHook registers fn to run after a session is ended or expired.
func WithRemoveHook(fn func(*Session, RemoveReason)) RegistryOption {
	return func(r *Registry) { r.onRemove = append(r.onRemove, fn) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty Registry.
func NewRegistry(checker AvailabilityChecker, opts ...RegistryOption) *Registry {
	r := &Registry{
		checker:  checker,
		maxPairs: DefaultMaxHistoryPairs,
		timeout:  DefaultTimeout,
		clock:    time.Now,
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "session.registry")
	return r
}

// Timeout returns the idle expiry period.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time {
	return r.clock()
}

// Start opens a session for channelID. It forces an availability check first
// and never replaces an existing session.
func (r *Registry) Start(ctx context.Context, channelID, persona string) (*Session, error) {
	if !r.checker.Refresh(ctx, true) {
		return nil, ErrServiceDown
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[channelID]; exists {
		return nil, ErrAlreadyActive
	}

	sess := newSession(channelID, persona, r.maxPairs, r.clock)
	r.sessions[channelID] = sess
	r.logger.Info("roleplay session started", "channel_id", channelID, "session_id", sess.ID)
	return sess, nil
}

// End removes the channel's session.
func (r *Registry) End(channelID string) error {
	r.mu.Lock()
	sess, exists := r.sessions[channelID]
	if exists {
		delete(r.sessions, channelID)
	}
	r.mu.Unlock()

	if !exists {
		return ErrNotFound
	}
	r.logger.Info("roleplay session ended", "channel_id", channelID, "session_id", sess.ID)
	r.removed(sess, RemovedEnded)
	return nil
}

// Get looks up the channel's session without changing it.
func (r *Registry) Get(channelID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[channelID]
	return sess, ok
}

// Expire removes sess from channelID if it is still the tracked session. It
// reports whether this call removed it.
func (r *Registry) Expire(channelID string, sess *Session) bool {
	r.mu.Lock()
	current, exists := r.sessions[channelID]
	if !exists || current != sess {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, channelID)
	r.mu.Unlock()

	r.logger.Info("roleplay session expired", "channel_id", channelID, "session_id", sess.ID)
	r.removed(sess, RemovedExpired)
	return true
}

// SweepExpired removes every session idle for longer than the timeout and
// returns their channel IDs.
func (r *Registry) SweepExpired() []string {
	now := r.clock()

	r.mu.Lock()
	var expired []*Session
	for _, sess := range r.sessions {
		if sess.IsExpired(now, r.timeout) {
			expired = append(expired, sess)
		}
	}
	r.mu.Unlock()

	var removed []string
	for _, sess := range expired {
		if r.Expire(sess.ChannelID, sess) {
			removed = append(removed, sess.ChannelID)
		}
	}
	sort.Strings(removed)
	return removed
}

// Snapshot lists the live sessions ordered by channel.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, Info{
			ID:           sess.ID,
			ChannelID:    sess.ChannelID,
			StartedAt:    sess.StartedAt,
			LastActivity: sess.LastActivity(),
			Turns:        sess.Len(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) removed(sess *Session, reason RemoveReason) {
	for _, fn := range r.onRemove {
		fn(sess, reason)
	}
}
