// Package transcript archives finished roleplay sessions in SQLite.
package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"Pikol/internal/session"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Load for an unknown session ID.
var ErrNotFound = errors.New("transcript not found")

// Record is one archived session.
type Record struct {
	SessionID string         `json:"session_id"`
	ChannelID string         `json:"channel_id"`
	Persona   string         `json:"persona"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Reason    string         `json:"reason"`
	Turns     []session.Turn `json:"turns,omitempty"`
}

// FromSession snapshots sess into a Record.
func FromSession(sess *session.Session, reason session.RemoveReason, endedAt time.Time) Record {
	return Record{
		SessionID: sess.ID,
		ChannelID: sess.ChannelID,
		Persona:   sess.Persona,
		StartedAt: sess.StartedAt,
		EndedAt:   endedAt,
		Reason:    string(reason),
		Turns:     sess.History(),
	}
}

// Store is a SQLite-backed transcript archive.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL,
	persona TEXT,
	start_time DATETIME,
	end_time DATETIME,
	reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_channel ON sessions(channel_id, end_time);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT,
	role TEXT,
	speaker TEXT,
	content TEXT,
	timestamp DATETIME,
	FOREIGN KEY(session_id) REFERENCES sessions(id)
);`

// Open opens or creates the database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create transcript tables: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "transcript")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes rec and its turns in one transaction. Saving the same session
// twice replaces the earlier copy.
func (s *Store) Save(ctx context.Context, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (id, channel_id, persona, start_time, end_time, reason) VALUES (?, ?, ?, ?, ?, ?)",
		rec.SessionID, rec.ChannelID, rec.Persona, rec.StartedAt.UTC(), rec.EndedAt.UTC(), rec.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", rec.SessionID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	for _, turn := range rec.Turns {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO messages (session_id, role, speaker, content, timestamp) VALUES (?, ?, ?, ?, ?)",
			rec.SessionID, string(turn.Role), turn.Speaker, turn.Text, turn.At.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("transcript saved", "session_id", rec.SessionID, "channel_id", rec.ChannelID, "message_count", len(rec.Turns))
	return nil
}

// Load reads one session with its turns.
func (s *Store) Load(ctx context.Context, sessionID string) (Record, error) {
	rec := Record{SessionID: sessionID}
	err := s.db.QueryRowContext(ctx,
		"SELECT channel_id, persona, start_time, end_time, reason FROM sessions WHERE id = ?", sessionID).
		Scan(&rec.ChannelID, &rec.Persona, &rec.StartedAt, &rec.EndedAt, &rec.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT role, speaker, content, timestamp FROM messages WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return Record{}, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			turn session.Turn
			role string
		)
		if err := rows.Scan(&role, &turn.Speaker, &turn.Text, &turn.At); err != nil {
			return Record{}, fmt.Errorf("failed to scan message: %w", err)
		}
		turn.Role = session.Role(role)
		rec.Turns = append(rec.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return Record{}, fmt.Errorf("failed to read messages: %w", err)
	}
	return rec, nil
}

// Recent lists the latest archived sessions of a channel, newest first,
// without their turns.
func (s *Store) Recent(ctx context.Context, channelID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, persona, start_time, end_time, reason FROM sessions WHERE channel_id = ? ORDER BY end_time DESC LIMIT ?",
		channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec := Record{ChannelID: channelID}
		if err := rows.Scan(&rec.SessionID, &rec.Persona, &rec.StartedAt, &rec.EndedAt, &rec.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	return records, nil
}

// RemoveHook returns a session.Registry remove hook that archives every ended
// or expired session. Failures are logged; they never block the registry.
func (s *Store) RemoveHook(clock func() time.Time) func(*session.Session, session.RemoveReason) {
	if clock == nil {
		clock = time.Now
	}
	return func(sess *session.Session, reason session.RemoveReason) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Save(ctx, FromSession(sess, reason, clock())); err != nil {
			s.logger.Warn("failed to archive session", "session_id", sess.ID, "channel_id", sess.ChannelID, "error", err)
		}
	}
}
