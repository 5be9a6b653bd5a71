// Package bot is the outermost message boundary: it dispatches "!" commands,
// passes everything else to the router and turns unexpected failures into an
// in-character notice.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"Pikol/internal/availability"
	"Pikol/internal/backend"
	"Pikol/internal/inference"
	"Pikol/internal/persona"
	"Pikol/internal/router"
	"Pikol/internal/session"
)

// ModelLister is the part of the inference client the model command needs.
type ModelLister interface {
	ListModels(ctx context.Context) ([]backend.Model, error)
	Model() string
}

// StateReader reports the cached inference state.
type StateReader interface {
	State() availability.State
}

// MessageRouter handles free-text messages.
type MessageRouter interface {
	HandleMessage(ctx context.Context, msg router.Message, ch router.Channel) router.Outcome
}

// Deps are the collaborators of a Bot.
type Deps struct {
	Registry     *session.Registry
	Router       MessageRouter
	Personas     *persona.Set
	Models       ModelLister
	Availability StateReader
	Prefix       string
	Logger       *slog.Logger
}

// Bot dispatches inbound messages.
type Bot struct {
	registry *session.Registry
	router   MessageRouter
	personas *persona.Set
	models   ModelLister
	avail    StateReader
	prefix   string
	logger   *slog.Logger
}

// New creates a Bot.
func New(d Deps) *Bot {
	if d.Prefix == "" {
		d.Prefix = "!"
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Bot{
		registry: d.Registry,
		router:   d.Router,
		personas: d.Personas,
		models:   d.Models,
		avail:    d.Availability,
		prefix:   d.Prefix,
		logger:   d.Logger.With("component", "bot"),
	}
}

// HandleMessage handles one inbound message. It never panics and never
// returns an error; failures are logged and reported to the channel.
func (b *Bot) HandleMessage(ctx context.Context, msg router.Message, ch router.Channel) {
	if msg.FromBot {
		return
	}

	content := strings.TrimSpace(msg.Content)
	operation := "roleplay_message"
	if strings.HasPrefix(content, b.prefix) {
		operation = commandName(content, b.prefix)
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "operation panicked",
				"operation", operation,
				"channel_id", msg.ChannelID,
				"error_type", fmt.Sprintf("%T", r),
				"error", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			b.reply(ctx, ch, MsgGenericFailure)
		}
	}()

	if operation == "roleplay_message" {
		b.router.HandleMessage(ctx, msg, ch)
		return
	}

	if err := b.handleCommand(ctx, operation, msg, ch, content); err != nil {
		b.logger.ErrorContext(ctx, "operation failed",
			"operation", operation,
			"channel_id", msg.ChannelID,
			"error_type", fmt.Sprintf("%T", err),
			"error", err,
		)
		b.reply(ctx, ch, MsgGenericFailure)
	}
}

func commandName(content, prefix string) string {
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func (b *Bot) handleCommand(ctx context.Context, cmd string, msg router.Message, ch router.Channel, content string) error {
	var args []string
	if fields := strings.Fields(strings.TrimPrefix(content, b.prefix)); len(fields) > 1 {
		args = fields[1:]
	}

	switch cmd {
	case "start_rp":
		return b.startRoleplay(ctx, msg, ch, args)
	case "end_rp":
		return b.endRoleplay(ctx, msg, ch)
	case "rp_status":
		return b.status(ctx, msg, ch)
	case "rp_models":
		return b.listModels(ctx, ch)
	case "help":
		b.reply(ctx, ch, b.help())
		return nil
	default:
		// other bots share the prefix
		return nil
	}
}

func (b *Bot) startRoleplay(ctx context.Context, msg router.Message, ch router.Channel, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	p, ok := b.personas.Lookup(name)
	if !ok {
		b.reply(ctx, ch, fmt.Sprintf("*Pikol tilts his head.* I don't know a persona called %q, meow. Try one of: %s",
			name, strings.Join(b.personas.Names(), ", ")))
		return nil
	}

	_, err := b.registry.Start(ctx, msg.ChannelID, p.Content)
	switch {
	case errors.Is(err, session.ErrServiceDown):
		b.reply(ctx, ch, MsgServiceDown)
	case errors.Is(err, session.ErrAlreadyActive):
		b.reply(ctx, ch, MsgAlreadyActive)
	case err != nil:
		return fmt.Errorf("failed to start session: %w", err)
	default:
		b.logger.InfoContext(ctx, "roleplay started", "channel_id", msg.ChannelID, "persona", p.Name, "author_id", msg.AuthorID)
		b.reply(ctx, ch, MsgStarted)
	}
	return nil
}

func (b *Bot) endRoleplay(ctx context.Context, msg router.Message, ch router.Channel) error {
	err := b.registry.End(msg.ChannelID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		b.reply(ctx, ch, MsgNotFound)
	case err != nil:
		return fmt.Errorf("failed to end session: %w", err)
	default:
		b.reply(ctx, ch, MsgEnded)
	}
	return nil
}

func (b *Bot) status(ctx context.Context, msg router.Message, ch router.Channel) error {
	state := availability.StateUnknown
	if b.avail != nil {
		state = b.avail.State()
	}

	sess, ok := b.registry.Get(msg.ChannelID)
	if !ok {
		b.reply(ctx, ch, fmt.Sprintf("No roleplay session in this channel. Magic source: %s.", state))
		return nil
	}

	idle := b.registry.Now().Sub(sess.LastActivity()).Truncate(time.Second)
	b.reply(ctx, ch, fmt.Sprintf("🔮 Roleplay session active: %d turns, idle for %s (ends after %s). Magic source: %s.",
		sess.Len(), idle, b.registry.Timeout(), state))
	return nil
}

func (b *Bot) listModels(ctx context.Context, ch router.Channel) error {
	if b.models == nil {
		return errors.New("model listing is not configured")
	}

	models, err := b.models.ListModels(ctx)
	if err != nil {
		switch inference.KindOf(err) {
		case inference.KindServiceUnavailable, inference.KindTimeout:
			b.reply(ctx, ch, MsgServiceDown)
			return nil
		}
		return fmt.Errorf("failed to list models: %w", err)
	}
	if len(models) == 0 {
		b.reply(ctx, ch, MsgNoModels)
		return nil
	}

	var sb strings.Builder
	sb.WriteString("🧪 Models in the magic source:\n")
	for i, m := range models {
		current := ""
		if m.Name == b.models.Model() {
			current = " (current)"
		}
		sizeGB := float64(m.Size) / (1024 * 1024 * 1024)
		fmt.Fprintf(&sb, "%d. %s - %.2f GB%s\n", i+1, m.Name, sizeGB, current)
	}
	b.reply(ctx, ch, strings.TrimRight(sb.String(), "\n"))
	return nil
}

func (b *Bot) help() string {
	p := b.prefix
	return strings.Join([]string{
		"🪄 Pikol commands:",
		p + "start_rp [persona] - start a roleplay session in this channel",
		p + "end_rp - end the roleplay session",
		p + "rp_status - show the session and magic source status",
		p + "rp_models - list the models the magic source knows",
		p + "help - show this help",
		"Personas: " + strings.Join(b.personas.Names(), ", "),
	}, "\n")
}

func (b *Bot) reply(ctx context.Context, ch router.Channel, text string) {
	if err := ch.Send(ctx, text); err != nil {
		b.logger.WarnContext(ctx, "failed to send reply", "error", err)
	}
}
