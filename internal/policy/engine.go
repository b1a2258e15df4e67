// Package policy runs one request through admission control and the guard
// that matches it, and records the outcome.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gzhole/agentguard/internal/cmdguard"
	"github.com/gzhole/agentguard/internal/logger"
	"github.com/gzhole/agentguard/internal/metrics"
	"github.com/gzhole/agentguard/internal/netguard"
	"github.com/gzhole/agentguard/internal/pathguard"
	"github.com/gzhole/agentguard/internal/ratelimit"
)

// DefaultSession is used for requests without a session key.
const DefaultSession = "default"

type EngineConfig struct {
	// Workspace is the sandbox root. Relative paths resolve against it.
	Workspace string
	// RestrictToWorkspace confines paths and commands to Workspace.
	RestrictToWorkspace bool

	// Limiter defaults to ratelimit.New(nil).
	Limiter *ratelimit.Limiter
	// Network defaults to netguard.New(nil).
	Network *netguard.Guard
}

type Engine struct {
	workspace string
	restrict  bool
	homeDir   string

	limiter *ratelimit.Limiter
	network *netguard.Guard
	command *cmdguard.Guard

	audit   *logger.AuditLogger
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewEngine builds an engine. Restricting to an empty workspace is refused.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	e := &Engine{
		restrict: cfg.RestrictToWorkspace,
		homeDir:  homeDir,
		limiter:  cfg.Limiter,
		network:  cfg.Network,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	if cfg.Workspace != "" {
		e.workspace = e.expandPath(cfg.Workspace)
	}
	if e.restrict && e.workspace == "" {
		return nil, fmt.Errorf("workspace restriction requires a workspace")
	}
	if e.limiter == nil {
		e.limiter = ratelimit.New(nil)
	}
	if e.network == nil {
		e.network = netguard.New(nil)
	}
	e.command = cmdguard.New(cmdguard.Config{
		RestrictToWorkspace: e.restrict,
		Root:                e.workspace,
	})
	return e, nil
}

// SetAuditLogger records every evaluation to a.
func (e *Engine) SetAuditLogger(a *logger.AuditLogger) {
	e.audit = a
}

func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

func (e *Engine) SetLogger(log zerolog.Logger) {
	e.log = log
}

func (e *Engine) Limiter() *ratelimit.Limiter {
	return e.limiter
}

func (e *Engine) Workspace() string {
	return e.workspace
}

func (e *Engine) Restricted() bool {
	return e.restrict
}

// Evaluate admits req against its operation's rate limit, then runs the
// guard for each request field that is set. The first denial wins.
func (e *Engine) Evaluate(ctx context.Context, req Request) EvalResult {
	start := e.now()
	if req.Session == "" {
		req.Session = DefaultSession
	}

	result := e.evaluate(ctx, req)
	result.Explanation = buildExplanation(result)

	elapsed := e.now().Sub(start)
	e.metrics.Decision(result.Guard, string(result.Decision), elapsed)
	if result.Decision == DecisionRateLimited {
		e.metrics.RateLimited(string(req.Operation))
	}
	e.record(req, result, elapsed)
	return result
}

func (e *Engine) evaluate(ctx context.Context, req Request) EvalResult {
	if req.Operation != "" && !e.limiter.Check(req.Session, req.Operation) {
		return EvalResult{
			Decision: DecisionRateLimited,
			Guard:    GuardRate,
			Reasons:  []string{e.limiter.LimitMessage(req.Operation)},
			WaitTime: e.limiter.WaitTime(req.Session, req.Operation),
		}
	}

	result := EvalResult{Decision: DecisionAllow, Guard: GuardNone}
	if req.Operation != "" {
		result.Guard = GuardRate
	}

	if req.Path != "" {
		result.Guard = GuardPath
		resolved, err := e.resolvePath(req.Path, req.Write)
		if err != nil {
			return block(GuardPath, err.Error())
		}
		result.ResolvedPath = resolved
	}

	if req.URL != "" {
		result.Guard = GuardNetwork
		check := e.network.Check(ctx, req.URL)
		if !check.Allowed {
			return block(GuardNetwork, check.Reason)
		}
		result.Addrs = check.Addrs
	}

	if req.Command != "" {
		result.Guard = GuardCommand
		verdict := e.command.ScreenIn(req.Command, req.WorkingDir)
		if !verdict.Allowed {
			return block(GuardCommand, verdict.Reason)
		}
		result.Warnings = verdict.Warnings
	}

	return result
}

func block(guard, reason string) EvalResult {
	return EvalResult{
		Decision: DecisionBlock,
		Guard:    guard,
		Reasons:  []string{reason},
	}
}

// ResolvePath resolves path the same way Evaluate does, without admission or
// auditing. Tools call it immediately before I/O.
func (e *Engine) ResolvePath(path string, write bool) (string, error) {
	return e.resolvePath(path, write)
}

// Screen runs the command guard without admission or auditing.
func (e *Engine) Screen(command, workingDir string) cmdguard.Verdict {
	return e.command.ScreenIn(command, workingDir)
}

// CheckURL runs the network guard without admission or auditing.
func (e *Engine) CheckURL(ctx context.Context, rawURL string) netguard.Result {
	return e.network.Check(ctx, rawURL)
}

func (e *Engine) resolvePath(path string, write bool) (string, error) {
	if e.restrict {
		if write {
			return pathguard.ResolveForWrite(path, e.workspace)
		}
		return pathguard.Resolve(path, e.workspace)
	}
	p := e.expandPath(path)
	if !filepath.IsAbs(p) && e.workspace != "" {
		p = filepath.Join(e.workspace, p)
	}
	return filepath.Abs(p)
}

func (e *Engine) expandPath(path string) string {
	if strings.HasPrefix(path, "~/") && e.homeDir != "" {
		return filepath.Join(e.homeDir, path[2:])
	}
	if path == "~" && e.homeDir != "" {
		return e.homeDir
	}
	return path
}

func (e *Engine) record(req Request, result EvalResult, elapsed time.Duration) {
	ev := e.log.Debug()
	if result.Decision != DecisionAllow {
		ev = e.log.Info()
	}
	ev.Str("session", req.Session).
		Str("operation", string(req.Operation)).
		Str("guard", result.Guard).
		Str("decision", string(result.Decision)).
		Msg("policy decision")

	if e.audit == nil {
		return
	}
	target := req.Command
	switch {
	case req.Path != "":
		target = req.Path
	case req.URL != "":
		target = req.URL
	}
	reasons := make([]string, 0, len(result.Reasons)+len(result.Warnings))
	reasons = append(reasons, result.Reasons...)
	reasons = append(reasons, result.Warnings...)
	event := logger.AuditEvent{
		Timestamp:  e.now().UTC().Format(time.RFC3339),
		Session:    req.Session,
		Operation:  string(req.Operation),
		Guard:      result.Guard,
		Tool:       req.Tool,
		Target:     target,
		Env:        req.Env,
		Cwd:        req.WorkingDir,
		Decision:   string(result.Decision),
		Reasons:    reasons,
		DurationMs: float64(elapsed.Microseconds()) / 1000,
	}
	if err := e.audit.Log(event); err != nil {
		e.log.Warn().Err(err).Msg("failed to write audit log")
	}
}

func buildExplanation(result EvalResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Decision: %s\n", result.Decision)
	fmt.Fprintf(&sb, "Guard: %s\n", result.Guard)

	if result.ResolvedPath != "" {
		fmt.Fprintf(&sb, "Resolved path: %s\n", result.ResolvedPath)
	}
	if len(result.Addrs) > 0 {
		addrs := make([]string, len(result.Addrs))
		for i, a := range result.Addrs {
			addrs[i] = a.String()
		}
		fmt.Fprintf(&sb, "Addresses: %s\n", strings.Join(addrs, ", "))
	}
	if result.WaitTime > 0 && result.WaitTime != ratelimit.Never {
		fmt.Fprintf(&sb, "Retry in: %s\n", result.WaitTime.Round(time.Millisecond))
	}

	if len(result.Reasons) > 0 {
		sb.WriteString("Reasons:\n")
		for _, reason := range result.Reasons {
			fmt.Fprintf(&sb, "  - %s\n", reason)
		}
	}
	if len(result.Warnings) > 0 {
		sb.WriteString("Warnings:\n")
		for _, w := range result.Warnings {
			fmt.Fprintf(&sb, "  - %s\n", w)
		}
	}

	return sb.String()
}
