package session

import (
	"sync"
	"time"

	"Pikol/internal/backend"

	"github.com/google/uuid"
)

// Role tags the speaker of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultMaxHistoryPairs bounds history when no positive limit is given.
const DefaultMaxHistoryPairs = 8

// anonymousSpeaker labels user turns recorded without a speaker name.
const anonymousSpeaker = "User"

// Turn represents a single message exchanged within a session
type Turn struct {
	Role    Role      `json:"role"`
	Text    string    `json:"text"`
	Speaker string    `json:"speaker,omitempty"`
	At      time.Time `json:"at"`
}

// Session is the conversation state of one channel: a fixed persona prompt, a
// bounded rolling history and the time of the last activity.
type Session struct {
	ID        string
	ChannelID string
	Persona   string
	StartedAt time.Time

	maxPairs int
	clock    func() time.Time

	mu           sync.Mutex
	history      []Turn
	lastActivity time.Time

	turn sync.Mutex
}

func newSession(channelID, persona string, maxPairs int, clock func() time.Time) *Session {
	if maxPairs <= 0 {
		maxPairs = DefaultMaxHistoryPairs
	}
	now := clock()
	return &Session{
		ID:           uuid.NewString(),
		ChannelID:    channelID,
		Persona:      persona,
		StartedAt:    now,
		maxPairs:     maxPairs,
		clock:        clock,
		lastActivity: now,
	}
}

// New creates a standalone session. Sessions tracked by a Registry are created
// through Registry.Start instead.
func New(channelID, persona string, maxPairs int) *Session {
	return newSession(channelID, persona, maxPairs, time.Now)
}

// AddTurn appends a turn, refreshes the activity time and drops the oldest
// user/assistant pair while the history exceeds 2*maxPairs entries.
func (s *Session) AddTurn(role Role, text, speaker string) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, Turn{Role: role, Text: text, Speaker: speaker, At: now})
	s.lastActivity = now

	limit := 2 * s.maxPairs
	for len(s.history) > limit {
		s.history = append(s.history[:0:0], s.history[2:]...)
	}
}

// IsExpired reports whether more than timeout has passed since the last
// activity. Exactly timeout is not expired.
func (s *Session) IsExpired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity()) > timeout
}

// Touch marks the session active at now.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// LastActivity returns the time of the last turn or Touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// History returns a copy of the turns in conversational order.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Len returns the number of turns currently held.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// FormatForInference renders the persona followed by the history. User turns
// carry their speaker's name so one persona can tell group members apart.
func (s *Session) FormatForInference() []backend.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]backend.ChatMessage, 0, len(s.history)+1)
	out = append(out, backend.ChatMessage{Role: string(RoleSystem), Content: s.Persona})
	for _, t := range s.history {
		content := t.Text
		if t.Role == RoleUser {
			speaker := t.Speaker
			if speaker == "" {
				speaker = anonymousSpeaker
			}
			content = speaker + ": " + t.Text
		}
		out = append(out, backend.ChatMessage{Role: string(t.Role), Content: content})
	}
	return out
}

// AcquireTurn serializes message exchanges on this session. The returned func
// releases it.
func (s *Session) AcquireTurn() func() {
	s.turn.Lock()
	return s.turn.Unlock
}
