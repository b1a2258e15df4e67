package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gzhole/agentguard/internal/bus"
)

// ConsoleChannel is the channel name used by Console.
const ConsoleChannel = "console"

// consoleReply is one line written by Console.
type consoleReply struct {
	ID      string `json:"id"`
	ReplyTo string `json:"reply_to,omitempty"`
	Content string `json:"content"`
}

// Console is a line-oriented channel: each input line becomes an inbound
// message and each reply is written as one JSON line.
type Console struct {
	in   io.Reader
	out  io.Writer
	mu   sync.Mutex
	chat string
	log  zerolog.Logger

	// pending counts published lines still waiting for a reply.
	pending atomic.Int64
}

func NewConsole(in io.Reader, out io.Writer, log zerolog.Logger) *Console {
	return &Console{in: in, out: out, chat: "direct", log: log}
}

// Attach subscribes the console to outbound messages on b.
func (c *Console) Attach(b *bus.MessageBus) {
	b.SubscribeOutbound(ConsoleChannel, c.write)
}

func (c *Console) write(_ context.Context, msg bus.OutboundMessage) error {
	line, err := json.Marshal(consoleReply{ID: msg.ID, ReplyTo: msg.ReplyTo, Content: msg.Content})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.out.Write(append(line, '\n'))
	if msg.ReplyTo != "" {
		c.pending.Add(-1)
	}
	return err
}

// Drain waits until every published line has been answered or ctx ends.
func (c *Console) Drain(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for c.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Run publishes every non-empty input line until the input ends or ctx is
// cancelled. It returns nil at end of input.
func (c *Console) Run(ctx context.Context, b *bus.MessageBus) error {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg := bus.NewInbound(ConsoleChannel, "user", c.chat, line)
		c.pending.Add(1)
		if !b.PublishInbound(ctx, msg) {
			c.pending.Add(-1)
			c.log.Warn().Msg("console input dropped")
		}
	}
	return scanner.Err()
}
