package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gzhole/agentguard/internal/config"
	"github.com/gzhole/agentguard/internal/logger"
	"github.com/gzhole/agentguard/internal/metrics"
	"github.com/gzhole/agentguard/internal/netguard"
	"github.com/gzhole/agentguard/internal/policy"
	"github.com/gzhole/agentguard/internal/ratelimit"
)

// stack is the set of components every guarded command needs.
type stack struct {
	cfg     *config.Config
	engine  *policy.Engine
	audit   *logger.AuditLogger
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// loadConfig resolves and loads the config file, applies command-line
// overrides and prints load warnings to stderr.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := config.ResolvePath(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if workspacePath != "" {
		cfg.Workspace = workspacePath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	printWarnings(cmd.ErrOrStderr(), cfg.Warnings)
	return cfg, nil
}

func printWarnings(w io.Writer, warnings []string) {
	for _, msg := range warnings {
		fmt.Fprintf(w, "[AgentGuard] warning: %s\n", msg)
	}
}

// newStack wires the policy engine to the audit log, metrics and the
// diagnostic logger described by cfg.
func newStack(cmd *cobra.Command, cfg *config.Config) (*stack, error) {
	log := logger.Setup(cmd.ErrOrStderr(), cfg.Log.Level)

	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	if workspace != "" {
		if err := config.EnsureDir(workspace); err != nil {
			return nil, fmt.Errorf("failed to create workspace: %w", err)
		}
	}

	limiter := ratelimit.New(cfg.Limits(),
		ratelimit.WithMaxSessions(cfg.MaxSessions),
		ratelimit.WithLogger(log),
	)
	engine, err := policy.NewEngine(policy.EngineConfig{
		Workspace:           workspace,
		RestrictToWorkspace: cfg.RestrictToWorkspace,
		Limiter:             limiter,
		Network:             netguard.New(&netguard.Config{DeniedDomains: cfg.Web.DeniedDomains}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	auditPath, err := cfg.AuditPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve audit log path: %w", err)
	}
	if err := config.EnsureDir(filepath.Dir(auditPath)); err != nil {
		return nil, fmt.Errorf("failed to create audit log dir: %w", err)
	}
	audit, err := logger.New(auditPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}

	m := metrics.New()
	engine.SetAuditLogger(audit)
	engine.SetMetrics(m)
	engine.SetLogger(log)

	return &stack{cfg: cfg, engine: engine, audit: audit, metrics: m, log: log}, nil
}

func (s *stack) Close() {
	if err := s.audit.Close(); err != nil {
		s.log.Warn().Err(err).Msg("failed to close audit log")
	}
}

// setupStack loads the config and builds the stack in one step.
func setupStack(cmd *cobra.Command) (*stack, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newStack(cmd, cfg)
}
