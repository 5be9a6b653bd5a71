package gateway_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"Pikol/internal/gateway"
	"Pikol/internal/router"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBridge accepts one connection, lets the test push events and records
// the commands it receives.
type fakeBridge struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	mu       sync.Mutex
	commands []gateway.Command
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	b := &fakeBridge{conns: make(chan *websocket.Conn, 1)}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- conn
		for {
			var cmd gateway.Command
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			b.mu.Lock()
			b.commands = append(b.commands, cmd)
			b.mu.Unlock()
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBridge) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *fakeBridge) received() []gateway.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]gateway.Command(nil), b.commands...)
}

func TestWebSocket_ReadyAndRoundTrip(t *testing.T) {
	bridge := newFakeBridge(t)
	gw := gateway.NewWebSocket(bridge.url(), nil)

	handled := make(chan router.Message, 1)
	handler := gateway.HandlerFunc(func(ctx context.Context, msg router.Message, ch router.Channel) {
		handled <- msg
		assert.NoError(t, ch.SendTyping(ctx))
		assert.NoError(t, ch.Send(ctx, "*purrs*"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx, handler) }()

	var conn *websocket.Conn
	select {
	case conn = <-bridge.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway never connected")
	}

	select {
	case <-gw.Ready():
		t.Fatal("ready before the bridge said so")
	default:
	}

	require.NoError(t, conn.WriteJSON(gateway.Event{Type: gateway.EventReady}))
	select {
	case <-gw.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("ready never closed")
	}

	require.NoError(t, conn.WriteJSON(gateway.Event{
		Type:       gateway.EventMessage,
		ChannelID:  "c1",
		AuthorID:   "u1",
		AuthorName: "Simon",
		Content:    "hi Pikol",
	}))

	select {
	case msg := <-handled:
		assert.Equal(t, router.Message{ChannelID: "c1", AuthorID: "u1", AuthorName: "Simon", Content: "hi Pikol"}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message never handled")
	}

	assert.Eventually(t, func() bool { return len(bridge.received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []gateway.Command{
		{Type: gateway.CommandTyping, ChannelID: "c1"},
		{Type: gateway.CommandSend, ChannelID: "c1", Content: "*purrs*"},
	}, bridge.received())

	require.NoError(t, gw.Notify(context.Background(), "c2", "💤"))
	assert.Eventually(t, func() bool { return len(bridge.received()) == 3 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	assert.Error(t, gw.Notify(context.Background(), "c1", "late"))
}

func TestWebSocket_SkipsMalformedFrame(t *testing.T) {
	bridge := newFakeBridge(t)
	gw := gateway.NewWebSocket(bridge.url(), nil)

	handled := make(chan router.Message, 1)
	handler := gateway.HandlerFunc(func(_ context.Context, msg router.Message, _ router.Channel) {
		handled <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx, handler) }()

	var conn *websocket.Conn
	select {
	case conn = <-bridge.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway never connected")
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(gateway.Event{
		Type:      gateway.EventMessage,
		ChannelID: "c1",
		Content:   "still there?",
	}))

	select {
	case msg := <-handled:
		assert.Equal(t, "still there?", msg.Content)
	case err := <-done:
		t.Fatalf("Run stopped early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("message never handled")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestWebSocket_DialFailure(t *testing.T) {
	gw := gateway.NewWebSocket("ws://127.0.0.1:1/ws", nil)
	err := gw.Run(context.Background(), gateway.HandlerFunc(func(context.Context, router.Message, router.Channel) {}))
	assert.Error(t, err)
}

func TestConsole_Run(t *testing.T) {
	in := strings.NewReader("hello\n\n!end_rp\n/quit\nnever read\n")
	var out bytes.Buffer
	console := gateway.NewConsole(in, &out, "Simon")

	var got []router.Message
	err := console.Run(context.Background(), gateway.HandlerFunc(func(ctx context.Context, msg router.Message, ch router.Channel) {
		got = append(got, msg)
		assert.NoError(t, ch.Send(ctx, "meow"))
	}))
	require.NoError(t, err)

	select {
	case <-console.Ready():
	default:
		t.Fatal("console should be ready once running")
	}

	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Content)
	assert.Equal(t, "Simon", got[0].AuthorName)
	assert.Equal(t, gateway.ConsoleChannelID, got[0].ChannelID)
	assert.Equal(t, "!end_rp", got[1].Content)
	assert.Contains(t, out.String(), "Pikol: meow")
	assert.Contains(t, out.String(), "Goodbye!")
}

func TestConsole_EOF(t *testing.T) {
	var out bytes.Buffer
	console := gateway.NewConsole(strings.NewReader("hi\n"), &out, "")

	calls := 0
	err := console.Run(context.Background(), gateway.HandlerFunc(func(_ context.Context, msg router.Message, _ router.Channel) {
		calls++
		assert.Equal(t, "User", msg.AuthorName)
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
