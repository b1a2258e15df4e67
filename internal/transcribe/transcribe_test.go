package transcribe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gzhole/agentguard/internal/config"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "voice.ogg")
	if err := os.WriteFile(p, []byte("OggS fake audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		name    string
		want    Kind
		wantErr bool
	}{
		{"", KindGroq, false},
		{"groq", KindGroq, false},
		{"OpenAI", KindOpenAI, false},
		{" local ", KindLocal, false},
		{"azure", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.name)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q, err %v", tt.name, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := New(Config{Kind: "azure"}); err == nil {
		t.Error("expected an error for an unknown kind")
	}
}

func TestAPIProviderTranscribes(t *testing.T) {
	var gotModel, gotLang, gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "  hello there  "}`))
	}))
	defer srv.Close()

	tests := []struct {
		kind  Kind
		model string
	}{
		{KindGroq, GroqModel},
		{KindOpenAI, OpenAIModel},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			p, err := New(Config{Kind: tt.kind, APIKey: "test-key", BaseURL: srv.URL + "/v1", Language: "en"})
			if err != nil {
				t.Fatal(err)
			}
			text, err := p.Transcribe(context.Background(), writeAudio(t))
			if err != nil {
				t.Fatalf("transcribe: %v", err)
			}
			if text != "hello there" {
				t.Errorf("text = %q", text)
			}
			if gotPath != "/v1/audio/transcriptions" || gotAuth != "Bearer test-key" {
				t.Errorf("unexpected request path %q auth %q", gotPath, gotAuth)
			}
			if gotModel != tt.model || gotLang != "en" {
				t.Errorf("unexpected form model %q language %q", gotModel, gotLang)
			}
		})
	}
}

func TestAPIProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()
	ctx := context.Background()

	p, _ := New(Config{Kind: KindOpenAI})
	if _, err := p.Transcribe(ctx, writeAudio(t)); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}

	p, _ = New(Config{Kind: KindGroq, APIKey: "k", BaseURL: srv.URL})
	if _, err := p.Transcribe(ctx, filepath.Join(t.TempDir(), "missing.ogg")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected a missing file error, got %v", err)
	}
	if _, err := p.Transcribe(ctx, writeAudio(t)); err == nil {
		t.Error("expected the API error to surface")
	}
}

func TestLocalProvider(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script stand-in for whisper")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-whisper")
	body := `#!/bin/sh
in="$1"; shift
while [ $# -gt 0 ]; do
  case "$1" in
    --output_dir) out="$2"; shift ;;
    --model) model="$2"; shift ;;
  esac
  shift
done
base=$(basename "$in")
printf ' local %s text \n' "$model" > "$out/${base%.*}.txt"
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	p, err := New(Config{Kind: KindLocal, Command: script, Model: "tiny"})
	if err != nil {
		t.Fatal(err)
	}
	text, err := p.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "local tiny text" {
		t.Errorf("text = %q", text)
	}
}

func TestLocalProviderMissingCommand(t *testing.T) {
	p, _ := New(Config{Kind: KindLocal, Command: filepath.Join(t.TempDir(), "nope")})
	if _, err := p.Transcribe(context.Background(), writeAudio(t)); err == nil {
		t.Error("expected an error when whisper is not installed")
	}
}

func TestFromConfig(t *testing.T) {
	c := config.Default()
	c.Transcription.Provider = "openai"
	c.Providers.OpenAI.APIKey = "sk-test"
	p, err := FromConfig(c, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	api, ok := p.(*apiProvider)
	if !ok || api.name != "openai" || api.model != OpenAIModel || !api.hasKey {
		t.Errorf("unexpected provider %+v", p)
	}

	c.Transcription.Provider = "carrier-pigeon"
	if _, err := FromConfig(c, zerolog.Nop()); err == nil {
		t.Error("expected an error for an unknown provider")
	}
}
