package netguard

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"
)

type fakeResolver struct {
	hosts   map[string][]string
	lookups []string
}

func (f *fakeResolver) LookupNetIP(_ context.Context, network, host string) ([]netip.Addr, error) {
	f.lookups = append(f.lookups, host)
	ips, ok := f.hosts[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	out := make([]netip.Addr, 0, len(ips))
	for _, s := range ips {
		out = append(out, netip.MustParseAddr(s))
	}
	return out, nil
}

func newTestGuard() (*Guard, *fakeResolver) {
	r := &fakeResolver{hosts: map[string][]string{
		"example.com":           {"93.184.216.34"},
		"dual.example.com":      {"93.184.216.34", "2606:2800:220:1:248:1893:25c8:1946"},
		"rebind.example.com":    {"93.184.216.34", "127.0.0.1"},
		"private.example.com":   {"10.0.0.5"},
		"metadata.example.com":  {"169.254.169.254"},
		"mapped.example.com":    {"::ffff:192.168.1.1"},
		"empty.example.com":     {},
		"xn--bcher-kva.example": {"93.184.216.35"},
	}}
	return New(&Config{Resolver: r, DeniedDomains: []string{"*.evil.test"}}), r
}

func TestValidate(t *testing.T) {
	g, _ := newTestGuard()

	tests := []struct {
		name     string
		url      string
		allowed  bool
		contains string
	}{
		{"public https", "https://example.com/path", true, ""},
		{"public http with port", "http://example.com:8080/", true, ""},
		{"dual stack", "https://dual.example.com", true, ""},
		{"idn host", "https://bücher.example/", true, ""},
		{"ftp scheme", "ftp://example.com/file", false, "http/https"},
		{"file scheme", "file:///etc/passwd", false, "http/https"},
		{"no scheme", "example.com", false, "http/https"},
		{"missing host", "http://", false, "Missing domain"},
		{"localhost", "http://localhost/admin", false, "Blocked host"},
		{"localhost uppercase", "http://LOCALHOST:80/", false, "Blocked host"},
		{"localhost trailing dot", "http://localhost./", false, "Blocked host"},
		{"zero address", "http://0.0.0.0/", false, "Blocked host"},
		{"ipv6 loopback", "http://[::1]/", false, "Blocked host"},
		{"metadata google", "http://metadata.google.internal/computeMetadata/v1/", false, "Blocked host"},
		{"loopback literal", "http://127.0.0.1/", false, "internal IP"},
		{"private literal", "http://192.168.1.1/", false, "internal IP"},
		{"metadata literal", "http://169.254.169.254/latest/meta-data/", false, "internal IP"},
		{"mapped literal", "http://[::ffff:127.0.0.1]/", false, "internal IP"},
		{"public literal", "http://8.8.8.8/", true, ""},
		{"rebinding mix", "http://rebind.example.com/", false, "internal IP"},
		{"private dns", "http://private.example.com/", false, "internal IP"},
		{"metadata dns", "http://metadata.example.com/", false, "internal IP"},
		{"mapped dns", "http://mapped.example.com/", false, "internal IP"},
		{"unresolvable", "http://nope.invalid/", false, "Could not resolve"},
		{"empty resolution", "http://empty.example.com/", false, "Could not resolve"},
		{"underscore host", "http://bad_host.example.com/", false, "Invalid hostname"},
		{"denied wildcard", "https://api.evil.test/", false, "Blocked host"},
		{"bad port", "http://example.com:99999/", false, "Invalid port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := g.Validate(context.Background(), tt.url)
			if ok != tt.allowed {
				t.Fatalf("%s: expected allowed=%v, got %v (reason %q)", tt.url, tt.allowed, ok, reason)
			}
			if !ok && !strings.Contains(reason, tt.contains) {
				t.Errorf("%s: expected reason containing %q, got %q", tt.url, tt.contains, reason)
			}
			if ok && reason != "" {
				t.Errorf("%s: expected empty reason on allow, got %q", tt.url, reason)
			}
		})
	}
}

func TestCheck_ReturnsValidatedAddrs(t *testing.T) {
	g, _ := newTestGuard()
	r := g.Check(context.Background(), "https://dual.example.com/x")
	if !r.Allowed {
		t.Fatalf("expected allow, got %q", r.Reason)
	}
	if r.Port != 443 {
		t.Errorf("expected port 443, got %d", r.Port)
	}
	if len(r.Addrs) != 2 {
		t.Fatalf("expected 2 addrs, got %d", len(r.Addrs))
	}
	for _, a := range r.Addrs {
		if isInternalAddr(a) {
			t.Errorf("validated addr %s is internal", a)
		}
	}
}

func TestCheck_BlockedHostSkipsDNS(t *testing.T) {
	g, r := newTestGuard()
	g.Check(context.Background(), "http://localhost/")
	g.Check(context.Background(), "http://127.0.0.1/")
	if len(r.lookups) != 0 {
		t.Errorf("expected no lookups, got %v", r.lookups)
	}
}

func TestNew_NilConfig(t *testing.T) {
	g := New(nil)
	if g.resolver == nil {
		t.Fatal("expected default resolver")
	}
	if ok, _ := g.Validate(context.Background(), "http://10.1.2.3/"); ok {
		t.Error("private literal must be refused without DNS")
	}
}

func TestMatchesDomain(t *testing.T) {
	tests := []struct {
		host, pattern string
		want          bool
	}{
		{"example.com", "example.com", true},
		{"EXAMPLE.com", "example.COM", true},
		{"a.example.com", "*.example.com", true},
		{"example.com", "*.example.com", false},
		{"badexample.com", "*.example.com", false},
		{"other.com", "example.com", false},
	}
	for _, tt := range tests {
		if got := matchesDomain(tt.host, tt.pattern); got != tt.want {
			t.Errorf("matchesDomain(%q, %q): expected %v, got %v", tt.host, tt.pattern, tt.want, got)
		}
	}
}
