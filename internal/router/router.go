// Package router feeds free-text channel messages into the channel's roleplay
// session and sends back the model's reply or an in-character notice.
package router

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"

	"Pikol/internal/backend"
	"Pikol/internal/inference"
	"Pikol/internal/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultUnstableNoticeChance is the probability of telling a channel that the
// model is unreachable instead of staying silent.
const DefaultUnstableNoticeChance = 0.1

// Message is one inbound chat message.
type Message struct {
	ChannelID  string
	AuthorID   string
	AuthorName string
	Content    string
	FromBot    bool
}

// Channel is the outbound side of the channel a message arrived on.
type Channel interface {
	Send(ctx context.Context, text string) error
	SendTyping(ctx context.Context) error
}

// Inference produces a reply for a formatted conversation.
type Inference interface {
	Chat(ctx context.Context, messages []backend.ChatMessage) (string, error)
}

// Availability is the availability cache as seen by the router.
type Availability interface {
	Refresh(ctx context.Context, force bool) bool
	MarkUnavailable()
}

// Dice returns a float in [0, 1).
type Dice func() float64

// Outcome labels how an exchange ended.
type Outcome string

const (
	OutcomeIgnored     Outcome = "ignored"
	OutcomeExpired     Outcome = "expired"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeReplied     Outcome = "replied"
	OutcomeFiller      Outcome = "filler"
	OutcomeLost        Outcome = "connection_lost"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeMishap      Outcome = "mishap"
)

// Router routes messages into sessions.
type Router struct {
	registry       *session.Registry
	inference      Inference
	availability   Availability
	commandPrefix  string
	unstableChance float64
	dice           Dice
	logger         *slog.Logger
	replies        metric.Int64Counter
}

// Option customizes a Router.
type Option func(*Router)

// WithCommandPrefix sets the prefix of messages the router leaves to the
// command layer.
func WithCommandPrefix(prefix string) Option {
	return func(r *Router) { r.commandPrefix = prefix }
}

// WithUnstableNoticeChance sets the probability of the unstable notice.
func WithUnstableNoticeChance(p float64) Option {
	return func(r *Router) { r.unstableChance = p }
}

// WithDice replaces the random source.
func WithDice(d Dice) Option {
	return func(r *Router) { r.dice = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithMeter sets the meter the reply counter is created on.
func WithMeter(meter metric.Meter) Option {
	return func(r *Router) { r.replies = newRepliesCounter(meter) }
}

// New creates a Router.
func New(registry *session.Registry, inf Inference, avail Availability, opts ...Option) *Router {
	r := &Router{
		registry:       registry,
		inference:      inf,
		availability:   avail,
		commandPrefix:  "!",
		unstableChance: DefaultUnstableNoticeChance,
		dice:           rand.Float64,
		logger:         slog.Default(),
		replies:        newRepliesCounter(otel.Meter("Pikol/router")),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "router")
	return r
}

func newRepliesCounter(meter metric.Meter) metric.Int64Counter {
	c, err := meter.Int64Counter(
		"pikol.router.replies",
		metric.WithDescription("Roleplay exchanges by outcome"),
	)
	if err != nil {
		return nil
	}
	return c
}

// HandleMessage runs one exchange. Messages outside a session, from the bot
// itself, or carrying the command prefix are ignored.
func (r *Router) HandleMessage(ctx context.Context, msg Message, ch Channel) Outcome {
	if msg.FromBot || r.isCommand(msg.Content) {
		return OutcomeIgnored
	}

	sess, ok := r.registry.Get(msg.ChannelID)
	if !ok {
		return OutcomeIgnored
	}

	release := sess.AcquireTurn()
	defer release()

	if sess.IsExpired(r.registry.Now(), r.registry.Timeout()) {
		if r.registry.Expire(msg.ChannelID, sess) {
			r.send(ctx, ch, session.ExpiryNotice)
		}
		return r.count(ctx, OutcomeExpired)
	}
	defer func() { sess.Touch(r.registry.Now()) }()

	if !r.availability.Refresh(ctx, false) {
		if r.dice() < r.unstableChance {
			r.send(ctx, ch, NoticeUnstable)
		}
		return r.count(ctx, OutcomeUnavailable)
	}

	sess.AddTurn(session.RoleUser, msg.Content, msg.AuthorName)

	if err := ch.SendTyping(ctx); err != nil {
		r.logger.DebugContext(ctx, "failed to send typing indicator", "channel_id", msg.ChannelID, "error", err)
	}

	reply, err := r.inference.Chat(ctx, sess.FormatForInference())
	if err != nil {
		return r.count(ctx, r.handleChatError(ctx, msg.ChannelID, ch, err))
	}

	outcome := OutcomeReplied
	if reply == "" {
		reply = fillers[int(r.dice()*float64(len(fillers)))%len(fillers)]
		outcome = OutcomeFiller
	}
	sess.AddTurn(session.RoleAssistant, reply, "")
	r.send(ctx, ch, reply)
	return r.count(ctx, outcome)
}

func (r *Router) handleChatError(ctx context.Context, channelID string, ch Channel, err error) Outcome {
	switch inference.KindOf(err) {
	case inference.KindServiceUnavailable:
		r.availability.MarkUnavailable()
		r.send(ctx, ch, NoticeConnectionLost)
		return OutcomeLost
	case inference.KindTimeout:
		r.send(ctx, ch, NoticeTimeout)
		return OutcomeTimeout
	default:
		r.logger.ErrorContext(ctx, "roleplay reply failed", "channel_id", channelID, "kind", inference.KindOf(err).String(), "error", err)
		r.send(ctx, ch, NoticeMagicMishap)
		return OutcomeMishap
	}
}

func (r *Router) isCommand(content string) bool {
	return r.commandPrefix != "" && strings.HasPrefix(strings.TrimSpace(content), r.commandPrefix)
}

func (r *Router) send(ctx context.Context, ch Channel, text string) {
	if err := ch.Send(ctx, text); err != nil {
		r.logger.WarnContext(ctx, "failed to send message", "error", err)
	}
}

func (r *Router) count(ctx context.Context, outcome Outcome) Outcome {
	if r.replies != nil {
		r.replies.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	}
	return outcome
}
