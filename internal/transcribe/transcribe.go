// Package transcribe turns voice messages into text using one of a closed
// set of providers selected by configuration.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gzhole/agentguard/internal/config"
)

// Kind names a transcription provider.
type Kind string

const (
	KindGroq   Kind = "groq"
	KindOpenAI Kind = "openai"
	KindLocal  Kind = "local"
)

const (
	GroqBaseURL  = "https://api.groq.com/openai/v1"
	GroqModel    = "whisper-large-v3"
	OpenAIModel  = "whisper-1"
	LocalModel   = "base"
	LocalCommand = "whisper"

	groqTimeout   = 60 * time.Second
	openAITimeout = 120 * time.Second
	localTimeout  = 10 * time.Minute
)

// ErrNoAPIKey is returned by API providers configured without a key.
var ErrNoAPIKey = errors.New("API key not configured for transcription")

// ParseKind maps a configured provider name to a Kind. An empty name selects
// Groq.
func ParseKind(name string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(name))); k {
	case "":
		return KindGroq, nil
	case KindGroq, KindOpenAI, KindLocal:
		return k, nil
	default:
		return "", fmt.Errorf("unknown transcription provider %q (want groq, openai or local)", name)
	}
}

// Transcriber converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Kind     Kind
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	// Command is the local whisper executable.
	Command string
	Timeout time.Duration
	Log     zerolog.Logger
}

// New builds the provider for cfg.Kind.
func New(cfg Config) (Transcriber, error) {
	switch cfg.Kind {
	case KindGroq:
		return newAPIProvider("groq", cfg, GroqBaseURL, GroqModel, groqTimeout), nil
	case KindOpenAI:
		return newAPIProvider("openai", cfg, "", OpenAIModel, openAITimeout), nil
	case KindLocal:
		return newLocalProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", cfg.Kind)
	}
}

// FromConfig builds the provider described by the transcription and
// providers sections of c.
func FromConfig(c *config.Config, log zerolog.Logger) (Transcriber, error) {
	kind, err := ParseKind(c.Transcription.Provider)
	if err != nil {
		return nil, err
	}
	cfg := Config{
		Kind:     kind,
		Model:    c.Transcription.Model,
		Language: c.Transcription.Language,
		Log:      log,
	}
	switch kind {
	case KindGroq:
		cfg.APIKey = c.Providers.Groq.APIKey
		cfg.BaseURL = c.Providers.Groq.BaseURL
	case KindOpenAI:
		cfg.APIKey = c.Providers.OpenAI.APIKey
		cfg.BaseURL = c.Providers.OpenAI.BaseURL
	case KindLocal:
	}
	log.Info().Str("provider", string(kind)).Str("model", cfg.Model).Msg("transcription provider selected")
	return New(cfg)
}

func checkAudio(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("audio file not found: %s", path)
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("not an audio file: %s", path)
	}
	return nil
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
