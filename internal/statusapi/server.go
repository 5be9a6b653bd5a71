// Package statusapi serves a small read-only HTTP status surface for operators.
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"Pikol/internal/availability"
	"Pikol/internal/session"
	"Pikol/internal/transcript"

	"github.com/gin-gonic/gin"
)

// Inference describes the configured model and the server behind it.
type Inference interface {
	Model() string
	ServerVersion() string
}

// Availability reports the cached inference state.
type Availability interface {
	State() availability.State
}

// Sessions lists live sessions.
type Sessions interface {
	Snapshot() []session.Info
}

// Transcripts reads the session archive.
type Transcripts interface {
	Recent(ctx context.Context, channelID string, limit int) ([]transcript.Record, error)
	Load(ctx context.Context, sessionID string) (transcript.Record, error)
}

// Server is the status HTTP server.
type Server struct {
	addr        string
	inference   Inference
	avail       Availability
	sessions    Sessions
	transcripts Transcripts
	logger      *slog.Logger
	engine      *gin.Engine
}

// New builds the server. transcripts may be nil when the archive is disabled.
func New(addr string, inf Inference, avail Availability, sessions Sessions, transcripts Transcripts, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		addr:        addr,
		inference:   inf,
		avail:       avail,
		sessions:    sessions,
		transcripts: transcripts,
		logger:      logger.With("component", "statusapi"),
		engine:      gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.healthz)
	s.engine.GET("/status", s.status)
	s.engine.GET("/transcripts/:channel", s.recentTranscripts)
	s.engine.GET("/transcripts/:channel/:id", s.transcript)
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown status server: %w", err)
		}
		return ctx.Err()
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	sessions := s.sessions.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"inference": gin.H{
			"model":          s.inference.Model(),
			"server_version": s.inference.ServerVersion(),
			"state":          s.avail.State().String(),
		},
		"active_sessions": len(sessions),
		"sessions":        sessions,
	})
}

func (s *Server) recentTranscripts(c *gin.Context) {
	if s.transcripts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript archive disabled"})
		return
	}

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	records, err := s.transcripts.Recent(c.Request.Context(), c.Param("channel"), limit)
	if err != nil {
		s.logger.Error("failed to list transcripts", "channel_id", c.Param("channel"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transcripts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (s *Server) transcript(c *gin.Context) {
	if s.transcripts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript archive disabled"})
		return
	}

	rec, err := s.transcripts.Load(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, transcript.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
		return
	case err != nil:
		s.logger.Error("failed to load transcript", "session_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load transcript"})
		return
	}
	// ids are global; a session from another channel is reported as missing
	if rec.ChannelID != c.Param("channel") {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}
