// Package gateway connects the message bus to a Processor: every inbound
// message is admitted per session, processed, sanitized and answered on the
// channel it came from.
package gateway

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/gzhole/agentguard/internal/bus"
	"github.com/gzhole/agentguard/internal/policy"
	"github.com/gzhole/agentguard/internal/ratelimit"
	"github.com/gzhole/agentguard/internal/redact"
)

// Processor produces the reply to one inbound message.
type Processor interface {
	Process(ctx context.Context, msg bus.InboundMessage) (string, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, msg bus.InboundMessage) (string, error)

func (f ProcessorFunc) Process(ctx context.Context, msg bus.InboundMessage) (string, error) {
	return f(ctx, msg)
}

type Gateway struct {
	bus       *bus.MessageBus
	engine    *policy.Engine
	processor Processor
	maxResult int
	log       zerolog.Logger
}

type Option func(*Gateway)

// WithMaxResultLength sets the rune limit applied to every reply.
func WithMaxResultLength(n int) Option {
	return func(g *Gateway) { g.maxResult = n }
}

func WithLogger(log zerolog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

func New(b *bus.MessageBus, engine *policy.Engine, p Processor, opts ...Option) *Gateway {
	g := &Gateway{
		bus:       b,
		engine:    engine,
		processor: p,
		maxResult: redact.DefaultMaxResultLength,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run handles inbound messages until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	for {
		msg, err := g.bus.ConsumeInbound(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		g.Handle(ctx, msg)
	}
}

// Handle admits, processes and answers a single message.
func (g *Gateway) Handle(ctx context.Context, msg bus.InboundMessage) {
	g.reply(ctx, msg, g.respond(ctx, msg))
}

func (g *Gateway) respond(ctx context.Context, msg bus.InboundMessage) string {
	decision := g.engine.Evaluate(ctx, policy.Request{
		Session:   msg.SessionKey(),
		Operation: ratelimit.OpChannelMessage,
	})
	if !decision.Allowed() {
		g.log.Info().
			Str("channel", msg.Channel).
			Str("sender", msg.SenderID).
			Str("decision", string(decision.Decision)).
			Msg("inbound message refused")
		return decision.Reason()
	}

	out, err := g.process(ctx, msg)
	if err != nil {
		g.log.Warn().
			Str("channel", msg.Channel).
			Str("error", redact.SanitizeError(err)).
			Msg("processing failed")
		return "Error: " + err.Error()
	}
	return out
}

func (g *Gateway) process(ctx context.Context, msg bus.InboundMessage) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("processor panicked")
			g.log.Error().Interface("panic", r).Str("channel", msg.Channel).Msg("processor panic")
		}
	}()
	return g.processor.Process(ctx, msg)
}

func (g *Gateway) reply(ctx context.Context, msg bus.InboundMessage, content string) {
	out := msg.Reply(redact.SanitizeResult(content, g.maxResult))
	if !g.bus.PublishOutbound(ctx, out) {
		g.log.Warn().Str("channel", msg.Channel).Msg("reply dropped")
	}
}
