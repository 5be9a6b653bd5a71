// Package gateway connects the bot to the chat platform. The WebSocket gateway
// speaks a small JSON protocol with a platform bridge; the Console gateway is
// a local single-channel REPL.
package gateway

import (
	"context"

	"Pikol/internal/router"
)

// Event types sent by the bridge.
const (
	EventReady   = "ready"
	EventMessage = "message"
)

// Command types sent to the bridge.
const (
	CommandSend   = "send"
	CommandTyping = "typing"
)

// Event is one inbound frame from the bridge.
type Event struct {
	Type       string `json:"type"`
	ChannelID  string `json:"channel_id,omitempty"`
	AuthorID   string `json:"author_id,omitempty"`
	AuthorName string `json:"author_name,omitempty"`
	Content    string `json:"content,omitempty"`
	FromBot    bool   `json:"from_bot,omitempty"`
}

// Message converts a message event for the router.
func (e Event) Message() router.Message {
	return router.Message{
		ChannelID:  e.ChannelID,
		AuthorID:   e.AuthorID,
		AuthorName: e.AuthorName,
		Content:    e.Content,
		FromBot:    e.FromBot,
	}
}

// Command is one outbound frame to the bridge.
type Command struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content,omitempty"`
}

// Handler consumes inbound messages. bot.Bot implements it.
type Handler interface {
	HandleMessage(ctx context.Context, msg router.Message, ch router.Channel)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg router.Message, ch router.Channel)

func (f HandlerFunc) HandleMessage(ctx context.Context, msg router.Message, ch router.Channel) {
	f(ctx, msg, ch)
}
