// Package bus decouples chat channels from the agent loop with two bounded
// queues: inbound (channel to agent) and outbound (agent to channel).
//
// A full queue sheds load. Publishing waits a bounded time for space and then
// drops the message rather than blocking the publisher indefinitely.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gzhole/agentguard/internal/metrics"
	"github.com/gzhole/agentguard/internal/redact"
)

const (
	DefaultQueueCapacity  = 1000
	DefaultPublishTimeout = 5 * time.Second
)

// Handler delivers an outbound message to a channel.
type Handler func(ctx context.Context, msg OutboundMessage) error

// MessageBus is safe for concurrent use.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	timeout  time.Duration

	mu          sync.RWMutex
	subscribers map[string][]Handler

	stop     chan struct{}
	stopOnce sync.Once

	log     zerolog.Logger
	metrics *metrics.Metrics
}

type Option func(*options)

type options struct {
	capacity int
	timeout  time.Duration
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

// WithCapacity sets the size of each queue. Values <= 0 are ignored.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithPublishTimeout sets how long a publish waits for queue space.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func New(opts ...Option) *MessageBus {
	o := options{
		capacity: DefaultQueueCapacity,
		timeout:  DefaultPublishTimeout,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &MessageBus{
		inbound:     make(chan InboundMessage, o.capacity),
		outbound:    make(chan OutboundMessage, o.capacity),
		timeout:     o.timeout,
		subscribers: make(map[string][]Handler),
		stop:        make(chan struct{}),
		log:         o.log,
		metrics:     o.metrics,
	}
}

// PublishInbound enqueues a message from a channel. It reports false when the
// message was dropped because the queue stayed full or ctx ended first.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) bool {
	ok := enqueue(ctx, b.inbound, msg, b.timeout)
	b.record("inbound", ok, len(b.inbound), msg.Channel)
	return ok
}

// PublishOutbound enqueues a reply for delivery.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) bool {
	ok := enqueue(ctx, b.outbound, msg, b.timeout)
	b.record("outbound", ok, len(b.outbound), msg.Channel)
	return ok
}

func enqueue[T any](ctx context.Context, ch chan T, msg T, timeout time.Duration) bool {
	select {
	case ch <- msg:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- msg:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (b *MessageBus) record(queue string, ok bool, depth int, channel string) {
	b.metrics.SetQueueDepth(queue, depth)
	if ok {
		b.metrics.BusPublished(queue)
		return
	}
	b.metrics.BusDropped(queue)
	b.log.Warn().
		Str("queue", queue).
		Str("channel", channel).
		Msg("queue full, message dropped")
}

// ConsumeInbound blocks until an inbound message is available or ctx ends.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		b.metrics.SetQueueDepth("inbound", len(b.inbound))
		return msg, nil
	case <-ctx.Done():
		return InboundMessage{}, ctx.Err()
	}
}

// ConsumeOutbound blocks until an outbound message is available or ctx ends.
// It competes with DispatchOutbound; use one or the other.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, error) {
	select {
	case msg := <-b.outbound:
		b.metrics.SetQueueDepth("outbound", len(b.outbound))
		return msg, nil
	case <-ctx.Done():
		return OutboundMessage{}, ctx.Err()
	}
}

// SubscribeOutbound registers h for messages addressed to channel. It may be
// called while DispatchOutbound is running.
func (b *MessageBus) SubscribeOutbound(channel string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], h)
}

func (b *MessageBus) handlers(channel string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hs := b.subscribers[channel]
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

// DispatchOutbound delivers outbound messages to their channel's handlers
// until ctx is cancelled or Stop is called. A failing handler does not
// affect the other handlers or later messages.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.stop:
			return nil
		case msg := <-b.outbound:
			b.metrics.SetQueueDepth("outbound", len(b.outbound))
			b.deliver(ctx, msg)
		}
	}
}

func (b *MessageBus) deliver(ctx context.Context, msg OutboundMessage) {
	hs := b.handlers(msg.Channel)
	if len(hs) == 0 {
		b.log.Debug().Str("channel", msg.Channel).Msg("no subscriber for outbound message")
		return
	}
	for i, h := range hs {
		if err := b.invoke(ctx, h, msg); err != nil {
			b.metrics.HandlerFailed(msg.Channel)
			b.log.Error().
				Str("error", redact.SanitizeError(err)).
				Str("channel", msg.Channel).
				Int("handler", i).
				Msg("outbound dispatch failed")
			continue
		}
		b.metrics.BusDelivered(msg.Channel)
	}
}

func (b *MessageBus) invoke(ctx context.Context, h Handler, msg OutboundMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}

// Stop ends DispatchOutbound. It is safe to call more than once.
func (b *MessageBus) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *MessageBus) InboundSize() int  { return len(b.inbound) }
func (b *MessageBus) OutboundSize() int { return len(b.outbound) }
func (b *MessageBus) Capacity() int     { return cap(b.inbound) }
