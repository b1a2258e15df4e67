package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gzhole/agentguard/internal/metrics"
	"github.com/gzhole/agentguard/internal/policy"
	"github.com/gzhole/agentguard/internal/redact"
)

// Registry holds the available tools and runs them through the policy
// engine.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	engine    *policy.Engine
	maxResult int
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

type Option func(*Registry)

// WithMaxResultLength sets the rune limit applied to every result.
func WithMaxResultLength(n int) Option {
	return func(r *Registry) { r.maxResult = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

func NewRegistry(engine *policy.Engine, opts ...Option) *Registry {
	r := &Registry{
		tools:     make(map[string]Tool),
		engine:    engine,
		maxResult: redact.DefaultMaxResultLength,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named tool for session and returns its sanitized result.
// Failures of any kind come back as text starting with "Error:".
func (r *Registry) Execute(ctx context.Context, session, name string, args map[string]any) string {
	t, ok := r.Get(name)
	if !ok {
		r.metrics.ToolCall("unknown", "not_found")
		return fmt.Sprintf("Error: Tool '%s' not found", name)
	}
	if args == nil {
		args = map[string]any{}
	}

	var req policy.Request
	if g, ok := t.(Guarded); ok {
		var err error
		if req, err = g.Request(args); err != nil {
			r.metrics.ToolCall(name, "invalid")
			return r.finish("Error: " + redact.SanitizeError(err))
		}
	}
	req.Session = session
	req.Operation = t.Operation()
	req.Tool = name

	decision := r.engine.Evaluate(ctx, req)
	switch decision.Decision {
	case policy.DecisionRateLimited:
		r.metrics.ToolCall(name, "rate_limited")
		return r.finish(decision.Reason())
	case policy.DecisionBlock:
		r.metrics.ToolCall(name, "blocked")
		return r.finish("Error: " + decision.Reason())
	}

	start := time.Now()
	out, err := t.Execute(ctx, args)
	if err != nil {
		r.metrics.ToolCall(name, "error")
		err = redact.Error(err)
		r.log.Debug().
			Str("tool", name).
			Str("session", session).
			Err(err).
			Msg("tool failed")
		return r.finish("Error: " + err.Error())
	}
	r.metrics.ToolCall(name, "ok")
	r.log.Debug().
		Str("tool", name).
		Str("session", session).
		Dur("elapsed", time.Since(start)).
		Msg("tool executed")
	return r.finish(out)
}

func (r *Registry) finish(out string) string {
	return redact.SanitizeResult(out, r.maxResult)
}

// DefaultsConfig configures the built-in tools.
type DefaultsConfig struct {
	ExecTimeout   time.Duration
	ExecEnv       []string
	FetchTimeout  time.Duration
	FetchMaxBytes int64
}

// RegisterDefaults registers the file, exec and web_fetch tools.
func (r *Registry) RegisterDefaults(cfg DefaultsConfig) {
	r.Register(NewReadFile(r.engine))
	r.Register(NewWriteFile(r.engine))
	r.Register(NewEditFile(r.engine))
	r.Register(NewListDir(r.engine))
	r.Register(NewExec(r.engine, cfg.ExecTimeout, cfg.ExecEnv))
	r.Register(NewWebFetch(r.engine, cfg.FetchTimeout, cfg.FetchMaxBytes))
}
