package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/gzhole/agentguard/internal/policy"
	"github.com/gzhole/agentguard/internal/ratelimit"
)

const (
	DefaultFetchTimeout  = 30 * time.Second
	DefaultFetchMaxBytes = 5 * 1024 * 1024
	maxRedirects         = 5
	userAgent            = "agentguard/1.0 (+web_fetch)"
)

// WebFetchTool fetches a URL. The connection is made only to the addresses
// the network guard validated, and every redirect hop is validated again.
type WebFetchTool struct {
	engine   *policy.Engine
	timeout  time.Duration
	maxBytes int64
	dial     func(ctx context.Context, network, address string) (net.Conn, error)
}

func NewWebFetch(engine *policy.Engine, timeout time.Duration, maxBytes int64) *WebFetchTool {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultFetchMaxBytes
	}
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &WebFetchTool{engine: engine, timeout: timeout, maxBytes: maxBytes, dial: d.DialContext}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return its readable text content."
}
func (t *WebFetchTool) Operation() ratelimit.Operation {
	return ratelimit.OpWebFetch
}

func (t *WebFetchTool) Request(args map[string]any) (policy.Request, error) {
	rawURL, err := stringArg(args, "url")
	return policy.Request{URL: rawURL}, err
}

type fetchResult struct {
	URL         string `json:"url"`
	FinalURL    string `json:"finalUrl"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Extractor   string `json:"extractor"`
	Truncated   bool   `json:"truncated"`
	Length      int    `json:"length"`
	Text        string `json:"text"`
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL, err := stringArg(args, "url")
	if err != nil {
		return "", err
	}

	pins := &pinSet{addrs: make(map[string][]netip.Addr)}
	check := t.engine.CheckURL(ctx, rawURL)
	if !check.Allowed {
		return "", fmt.Errorf("URL validation failed: %s", check.Reason)
	}
	pins.add(check.Host, check.Port, check.Addrs)

	client := &http.Client{
		Timeout: t.timeout,
		Transport: &http.Transport{
			Proxy:                 nil,
			DialContext:           pins.dialContext(t.dial),
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: t.timeout,
			MaxIdleConns:          1,
			DisableKeepAlives:     true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			c := t.engine.CheckURL(req.Context(), req.URL.String())
			if !c.Allowed {
				return fmt.Errorf("redirect blocked: %s", c.Reason)
			}
			pins.add(c.Host, c.Port, c.Addrs)
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,text/plain,application/json;q=0.9,*/*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching URL: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	truncated := int64(len(body)) > t.maxBytes
	if truncated {
		body = body[:t.maxBytes]
	}

	contentType := resp.Header.Get("Content-Type")
	text, extractor := extractText(contentType, body)

	out, err := json.Marshal(fetchResult{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		Status:      resp.StatusCode,
		ContentType: contentType,
		Extractor:   extractor,
		Truncated:   truncated,
		Length:      len(text),
		Text:        text,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// pinSet maps host:port to the addresses validated for it.
type pinSet struct {
	mu    sync.Mutex
	addrs map[string][]netip.Addr
}

func pinKey(host string, port int) string {
	return net.JoinHostPort(strings.TrimSuffix(strings.ToLower(host), "."), strconv.Itoa(port))
}

func (p *pinSet) add(host string, port int, addrs []netip.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addrs[pinKey(host, port)] = addrs
}

func (p *pinSet) lookup(host string, port int) []netip.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addrs[pinKey(host, port)]
}

// dialContext refuses any host:port that was not validated and otherwise
// dials the validated addresses in order.
func (p *pinSet) dialContext(dial func(ctx context.Context, network, address string) (net.Conn, error)) func(ctx context.Context, network, address string) (net.Conn, error) {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, portStr, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, err
		}
		addrs := p.lookup(host, port)
		if len(addrs) == 0 {
			return nil, fmt.Errorf("refusing to dial unvalidated address %s", address)
		}
		var errs []error
		for _, a := range addrs {
			conn, err := dial(ctx, network, netip.AddrPortFrom(a, uint16(port)).String())
			if err == nil {
				return conn, nil
			}
			errs = append(errs, err)
		}
		return nil, errors.Join(errs...)
	}
}

func extractText(contentType string, body []byte) (string, string) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			return buf.String(), "json"
		}
		return string(body), "raw"
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return htmlText(body), "html"
	case mediaType == "" && looksLikeHTML(body):
		return htmlText(body), "html"
	}
	return string(body), "raw"
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 256)]))
	return strings.Contains(head, "<!doctype html") || strings.Contains(head, "<html")
}

// htmlText returns the visible text of an HTML document with whitespace
// collapsed and one line per block.
func htmlText(body []byte) string {
	z := html.NewTokenizer(bytes.NewReader(body))
	var (
		sb   strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(sb.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript", "template", "svg":
				skip++
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "section", "article":
				newline(&sb)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript", "template", "svg":
				if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text == "" {
				continue
			}
			if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
				sb.WriteByte(' ')
			}
			sb.WriteString(text)
		}
	}
}

func newline(sb *strings.Builder) {
	if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
		sb.WriteByte('\n')
	}
}
