package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"Pikol/internal/router"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// WebSocket is a gateway over a JSON websocket bridge.
type WebSocket struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocket creates a gateway for the bridge at url. Nothing is dialed
// until Run.
func NewWebSocket(url string, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		url:    url,
		dialer: websocket.DefaultDialer,
		logger: logger.With("component", "gateway.websocket"),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the bridge reports it is ready.
func (w *WebSocket) Ready() <-chan struct{} {
	return w.ready
}

// Run connects to the bridge and dispatches message events to h until ctx is
// cancelled or the connection drops. Each message is handled on its own
// goroutine; Run waits for them before returning.
func (w *WebSocket) Run(ctx context.Context, h Handler) error {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.closed = false
	w.mu.Unlock()
	w.logger.Info("connected to chat bridge", "url", w.url)

	stop := context.AfterFunc(ctx, func() { w.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("failed to read event: %w", err)
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			w.logger.Warn("dropping malformed bridge frame", "error", err, "size", len(data))
			continue
		}

		switch ev.Type {
		case EventReady:
			w.readyOnce.Do(func() {
				w.logger.Info("chat bridge ready")
				close(w.ready)
			})
		case EventMessage:
			if ev.ChannelID == "" {
				w.logger.Warn("dropping message without channel")
				continue
			}
			wg.Add(1)
			go func(ev Event) {
				defer wg.Done()
				h.HandleMessage(ctx, ev.Message(), w.Channel(ev.ChannelID))
			}(ev)
		default:
			w.logger.Debug("ignoring bridge event", "type", ev.Type)
		}
	}
}

// Channel returns the outbound side of channelID.
func (w *WebSocket) Channel(channelID string) router.Channel {
	return &wsChannel{gw: w, id: channelID}
}

// Notify sends text to channelID.
func (w *WebSocket) Notify(ctx context.Context, channelID, text string) error {
	return w.write(ctx, Command{Type: CommandSend, ChannelID: channelID, Content: text})
}

// Close closes the bridge connection.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.conn == nil {
		return nil
	}
	w.closed = true

	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := w.conn.Close()
	w.logger.Info("closed chat bridge connection")
	return err
}

func (w *WebSocket) write(ctx context.Context, cmd Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil || w.closed {
		return errors.New("gateway is not connected")
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := w.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("failed to write %s command: %w", cmd.Type, err)
	}
	return nil
}

type wsChannel struct {
	gw *WebSocket
	id string
}

func (c *wsChannel) Send(ctx context.Context, text string) error {
	return c.gw.Notify(ctx, c.id, text)
}

func (c *wsChannel) SendTyping(ctx context.Context) error {
	return c.gw.write(ctx, Command{Type: CommandTyping, ChannelID: c.id})
}
