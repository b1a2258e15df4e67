package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// localProvider runs the whisper command line tool and reads the text file
// it writes.
type localProvider struct {
	command  string
	model    string
	language string
	timeout  time.Duration
	log      zerolog.Logger
}

func newLocalProvider(cfg Config) *localProvider {
	return &localProvider{
		command:  orDefault(cfg.Command, LocalCommand),
		model:    orDefault(cfg.Model, LocalModel),
		language: cfg.Language,
		timeout:  orDefault(cfg.Timeout, localTimeout),
		log:      cfg.Log,
	}
}

func (p *localProvider) args(path, outDir string) []string {
	args := []string{path, "--model", p.model, "--output_format", "txt", "--output_dir", outDir}
	if p.language != "" {
		args = append(args, "--language", p.language)
	}
	return args
}

func (p *localProvider) Transcribe(ctx context.Context, path string) (string, error) {
	if err := checkAudio(path); err != nil {
		return "", err
	}
	bin, err := exec.LookPath(p.command)
	if err != nil {
		return "", fmt.Errorf("local whisper not available: %w", err)
	}

	outDir, err := os.MkdirTemp("", "agentguard-whisper-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(outDir)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.log.Info().Str("model", p.model).Msg("running local whisper")
	cmd := exec.CommandContext(ctx, bin, p.args(path, outDir)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("local whisper timed out after %s", p.timeout)
		}
		return "", fmt.Errorf("local whisper failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	text, err := os.ReadFile(filepath.Join(outDir, base+".txt"))
	if err != nil {
		return "", fmt.Errorf("local whisper produced no transcript: %w", err)
	}
	return strings.TrimSpace(string(text)), nil
}
