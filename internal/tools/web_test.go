package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"
)

// redirectDialer sends every connection to the test server and records the
// address the tool asked for.
type redirectDialer struct {
	target string
	mu     sync.Mutex
	dialed []string
}

func (d *redirectDialer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, address)
	d.mu.Unlock()
	var nd net.Dialer
	return nd.DialContext(ctx, network, d.target)
}

func newFetchTool(t *testing.T, handler http.Handler) (*WebFetchTool, *redirectDialer) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	e, _ := newEngine(t, true, nil)
	tool := NewWebFetch(e, 5*time.Second, 1024)
	d := &redirectDialer{target: srv.Listener.Addr().String()}
	tool.dial = d.dial
	return tool, d
}

func TestWebFetchHTML(t *testing.T) {
	tool, d := newFetchTool(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><style>p{}</style><script>var x=1;</script></head>
<body><h1>Title</h1><p>Hello   <b>world</b></p></body></html>`))
	}))

	out, err := tool.Execute(context.Background(), map[string]any{"url": "http://example.test/page"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res fetchResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON result: %v", err)
	}
	if res.Status != 200 || res.Extractor != "html" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Text != "Title\nHello world" {
		t.Errorf("unexpected text %q", res.Text)
	}

	if len(d.dialed) != 1 || d.dialed[0] != "93.184.216.34:80" {
		t.Errorf("expected a dial to the validated address only, got %v", d.dialed)
	}
}

func TestWebFetchTruncatesBody(t *testing.T) {
	tool, _ := newFetchTool(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("z", 4096)))
	}))

	out, err := tool.Execute(context.Background(), map[string]any{"url": "http://example.test/"})
	if err != nil {
		t.Fatal(err)
	}
	var res fetchResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Truncated || res.Length != 1024 || res.Extractor != "raw" {
		t.Errorf("expected a truncated raw body of 1024 bytes, got %+v", res)
	}
}

func TestWebFetchRedirects(t *testing.T) {
	tests := []struct {
		name     string
		location string
		wantErr  string
	}{
		{"to internal host", "http://internal.test/admin", "URL resolves to internal IP"},
		{"to localhost", "http://localhost/", "Blocked host"},
		{"to metadata IP", "http://169.254.169.254/latest/meta-data/", "internal IP"},
		{"to file scheme", "file:///etc/passwd", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool, d := newFetchTool(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, tt.location, http.StatusFound)
			}))
			_, err := tool.Execute(context.Background(), map[string]any{"url": "http://example.test/start"})
			if err == nil {
				t.Fatal("expected the redirect to be refused")
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if len(d.dialed) != 1 {
				t.Errorf("redirect target must never be dialed, dials: %v", d.dialed)
			}
		})
	}
}

func TestWebFetchFollowsValidatedRedirect(t *testing.T) {
	tool, d := newFetchTool(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Host == "example.test" {
			http.Redirect(w, r, "http://redirect.test/final", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))

	out, err := tool.Execute(context.Background(), map[string]any{"url": "http://example.test/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res fetchResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if res.FinalURL != "http://redirect.test/final" || res.Extractor != "json" {
		t.Errorf("unexpected result %+v", res)
	}
	if len(d.dialed) != 2 || d.dialed[1] != "93.184.216.35:80" {
		t.Errorf("expected second dial to the validated redirect address, got %v", d.dialed)
	}
}

func TestWebFetchRejectsInvalidURL(t *testing.T) {
	tool, d := newFetchTool(t, http.NotFoundHandler())
	for _, u := range []string{"ftp://example.test/", "http://10.0.0.1/", "http://unknown.test/"} {
		if _, err := tool.Execute(context.Background(), map[string]any{"url": u}); err == nil {
			t.Errorf("expected %q to be refused", u)
		}
	}
	if len(d.dialed) != 0 {
		t.Errorf("nothing should be dialed, got %v", d.dialed)
	}
}

func TestPinSetRefusesUnvalidatedAddress(t *testing.T) {
	p := &pinSet{addrs: make(map[string][]netip.Addr)}
	p.add("Example.Test.", 443, []netip.Addr{netip.MustParseAddr("93.184.216.34")})

	var dialed []string
	dial := p.dialContext(func(_ context.Context, _, address string) (net.Conn, error) {
		dialed = append(dialed, address)
		return nil, errors.New("stop")
	})
	ctx := context.Background()

	for _, addr := range []string{"other.test:443", "example.test:80"} {
		if _, err := dial(ctx, "tcp", addr); err == nil || !strings.Contains(err.Error(), "unvalidated") {
			t.Errorf("%s: expected refusal, got %v", addr, err)
		}
	}
	if len(dialed) != 0 {
		t.Fatalf("unvalidated addresses were dialed: %v", dialed)
	}

	if _, err := dial(ctx, "tcp", "EXAMPLE.test:443"); err == nil {
		t.Error("expected the stub dial error")
	}
	if len(dialed) != 1 || dialed[0] != "93.184.216.34:443" {
		t.Errorf("expected dial to the pinned address, got %v", dialed)
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		contentType string
		body        string
		extractor   string
	}{
		{"application/json", `{"a":1}`, "json"},
		{"application/problem+json", `{"a":1}`, "json"},
		{"application/json", `not json`, "raw"},
		{"text/plain", "<html>", "raw"},
		{"", "<!DOCTYPE html><p>x</p>", "html"},
		{"text/html; charset=utf-8", "<p>x</p>", "html"},
	}
	for _, tt := range tests {
		if _, got := extractText(tt.contentType, []byte(tt.body)); got != tt.extractor {
			t.Errorf("extractText(%q, %q) extractor = %s, want %s", tt.contentType, tt.body, got, tt.extractor)
		}
	}
}
