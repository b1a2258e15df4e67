package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gzhole/agentguard/internal/ratelimit"
)

const (
	DefaultConfigDir  = ".agentguard"
	DefaultConfigFile = "config.yaml"
	DefaultLogFile    = "audit.jsonl"
	DefaultWorkspace  = "workspace"

	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "AGENTGUARD_CONFIG"
)

type Config struct {
	Workspace           string                     `yaml:"workspace"`
	RestrictToWorkspace bool                       `yaml:"restrict_to_workspace"`
	RateLimits          map[string]RateLimitConfig `yaml:"rate_limits,omitempty"`
	MaxSessions         int                        `yaml:"max_sessions"`
	Bus                 BusConfig                  `yaml:"bus"`
	Sanitize            SanitizeConfig             `yaml:"sanitize"`
	Exec                ExecConfig                 `yaml:"exec"`
	Web                 WebConfig                  `yaml:"web"`
	Transcription       TranscriptionConfig        `yaml:"transcription"`
	Providers           ProvidersConfig            `yaml:"providers"`
	Log                 LogConfig                  `yaml:"log"`
	Metrics             MetricsConfig              `yaml:"metrics"`

	// Path is the file the config was loaded from.
	Path string `yaml:"-"`
	// Warnings collects non-fatal problems found while loading.
	Warnings []string `yaml:"-"`
}

// RateLimitConfig allows Capacity operations per Period.
type RateLimitConfig struct {
	Capacity float64       `yaml:"capacity"`
	Period   time.Duration `yaml:"period"`
}

type BusConfig struct {
	QueueCapacity  int           `yaml:"queue_capacity"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

type SanitizeConfig struct {
	MaxResultLength int `yaml:"max_result_length"`
}

type ExecConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// Env holds extra KEY=VALUE entries passed to executed commands.
	Env []string `yaml:"env,omitempty"`
}

type WebConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxBytes      int64         `yaml:"max_bytes"`
	DeniedDomains []string      `yaml:"denied_domains,omitempty"`
}

type TranscriptionConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model,omitempty"`
	Language string `yaml:"language,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

type ProvidersConfig struct {
	OpenAI ProviderConfig `yaml:"openai"`
	Groq   ProviderConfig `yaml:"groq"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	AuditPath string `yaml:"audit_path"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Workspace:           filepath.Join("~", DefaultConfigDir, DefaultWorkspace),
		RestrictToWorkspace: true,
		MaxSessions:         ratelimit.DefaultMaxSessions,
		Bus: BusConfig{
			QueueCapacity:  1000,
			PublishTimeout: 5 * time.Second,
		},
		Sanitize: SanitizeConfig{MaxResultLength: 50000},
		Exec:     ExecConfig{Timeout: 60 * time.Second},
		Web: WebConfig{
			Timeout:  30 * time.Second,
			MaxBytes: 5 * 1024 * 1024,
		},
		Transcription: TranscriptionConfig{Provider: "groq"},
		Log: LogConfig{
			Level:     "info",
			AuditPath: filepath.Join("~", DefaultConfigDir, DefaultLogFile),
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9464"},
	}
}

// ResolvePath picks the config file: the explicit flag value, then
// $AGENTGUARD_CONFIG, then ~/.agentguard/config.yaml.
func ResolvePath(flagPath string) (string, error) {
	if flagPath != "" {
		return ExpandHome(flagPath)
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return ExpandHome(env)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, DefaultConfigDir, DefaultConfigFile), nil
}

// legacyKeys holds keys read only for migration.
type legacyKeys struct {
	RestrictToWorkspace *bool `yaml:"restrict_to_workspace"`
	Exec                struct {
		RestrictToWorkspace *bool `yaml:"restrict_to_workspace"`
	} `yaml:"exec"`
}

// Load reads the config at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.Path = path

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg.finish()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}
	if info.Mode().Perm()&0o004 != 0 {
		cfg.warnf("config file %s is world-readable and may contain API keys; run: chmod 600 %s", path, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	var legacy legacyKeys
	if err := yaml.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if legacy.Exec.RestrictToWorkspace != nil {
		if legacy.RestrictToWorkspace == nil {
			cfg.RestrictToWorkspace = *legacy.Exec.RestrictToWorkspace
		}
		cfg.warnf("exec.restrict_to_workspace is deprecated; use the top-level restrict_to_workspace (run 'agentguard config init --force' to rewrite)")
	}

	cfg.finish()
	return cfg, nil
}

// finish replaces invalid values with defaults and fills API keys from the
// environment.
func (c *Config) finish() {
	def := Default()
	if c.Workspace == "" {
		c.Workspace = def.Workspace
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = def.MaxSessions
	}
	if c.Bus.QueueCapacity <= 0 {
		c.Bus.QueueCapacity = def.Bus.QueueCapacity
	}
	if c.Bus.PublishTimeout <= 0 {
		c.Bus.PublishTimeout = def.Bus.PublishTimeout
	}
	if c.Sanitize.MaxResultLength <= 0 {
		c.Sanitize.MaxResultLength = def.Sanitize.MaxResultLength
	}
	if c.Exec.Timeout <= 0 {
		c.Exec.Timeout = def.Exec.Timeout
	}
	if c.Web.Timeout <= 0 {
		c.Web.Timeout = def.Web.Timeout
	}
	if c.Web.MaxBytes <= 0 {
		c.Web.MaxBytes = def.Web.MaxBytes
	}
	if c.Transcription.Provider == "" {
		c.Transcription.Provider = def.Transcription.Provider
	}
	if c.Log.AuditPath == "" {
		c.Log.AuditPath = def.Log.AuditPath
	}
	for name, rl := range c.RateLimits {
		// Buckets admit whole requests, so a capacity below one would never admit.
		if rl.Capacity < 1 || rl.Period <= 0 {
			c.warnf("rate_limits.%s needs a capacity of at least 1 and a positive period; using the built-in limit", name)
			delete(c.RateLimits, name)
		}
	}
	if c.Providers.OpenAI.APIKey == "" {
		c.Providers.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Providers.Groq.APIKey == "" {
		c.Providers.Groq.APIKey = os.Getenv("GROQ_API_KEY")
	}
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// Limits returns the built-in rate-limit table with configured overrides
// applied.
func (c *Config) Limits() map[ratelimit.Operation]ratelimit.Limit {
	limits := ratelimit.DefaultLimits()
	for name, rl := range c.RateLimits {
		limits[ratelimit.Operation(name)] = ratelimit.Per(rl.Capacity, rl.Period)
	}
	return limits
}

// WorkspacePath returns the workspace with ~ expanded.
func (c *Config) WorkspacePath() (string, error) {
	return ExpandHome(c.Workspace)
}

// AuditPath returns the audit log path with ~ expanded.
func (c *Config) AuditPath() (string, error) {
	return ExpandHome(c.Log.AuditPath)
}

// Save writes c to path atomically with mode 0600.
func Save(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := ensureDir(dir); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~")), nil
}

// EnsureDir creates path with mode 0700 if it does not exist.
func EnsureDir(path string) error {
	return ensureDir(path)
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0700)
	}
	return nil
}
