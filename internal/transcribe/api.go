package transcribe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/gzhole/agentguard/internal/redact"
)

// apiProvider talks to an OpenAI-compatible transcription endpoint.
type apiProvider struct {
	name     string
	client   *openai.Client
	hasKey   bool
	model    string
	language string
	timeout  time.Duration
	log      zerolog.Logger
}

func newAPIProvider(name string, cfg Config, baseURL, model string, timeout time.Duration) *apiProvider {
	oc := openai.DefaultConfig(cfg.APIKey)
	if u := orDefault(cfg.BaseURL, baseURL); u != "" {
		oc.BaseURL = strings.TrimRight(u, "/")
	}
	return &apiProvider{
		name:     name,
		client:   openai.NewClientWithConfig(oc),
		hasKey:   strings.TrimSpace(cfg.APIKey) != "",
		model:    orDefault(cfg.Model, model),
		language: cfg.Language,
		timeout:  orDefault(cfg.Timeout, timeout),
		log:      cfg.Log,
	}
}

func (p *apiProvider) Transcribe(ctx context.Context, path string) (string, error) {
	if !p.hasKey {
		return "", fmt.Errorf("%s: %w", p.name, ErrNoAPIKey)
	}
	if err := checkAudio(path); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.model,
		FilePath: path,
		Language: p.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		p.log.Error().Str("provider", p.name).Str("error", redact.SanitizeError(err)).Msg("transcription failed")
		return "", fmt.Errorf("%s transcription failed: %w", p.name, err)
	}
	p.log.Debug().
		Str("provider", p.name).
		Str("model", p.model).
		Dur("elapsed", time.Since(start)).
		Msg("transcription complete")
	return strings.TrimSpace(resp.Text), nil
}
