// Package netguard validates outbound URLs against server-side request
// forgery. A URL is admitted only when every address its host resolves to is
// public.
package netguard

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// Resolver looks up the addresses of a host.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// DefaultLookupTimeout bounds a single DNS lookup.
const DefaultLookupTimeout = 5 * time.Second

// blockedHosts are refused before any DNS lookup.
var blockedHosts = map[string]bool{
	"localhost":                true,
	"localhost.localdomain":    true,
	"0.0.0.0":                  true,
	"::1":                      true,
	"::0":                      true,
	"::":                       true,
	"metadata.google.internal": true,
	"metadata":                 true,
	"metadata.azure.internal":  true,
}

// Result is the outcome of a URL check. Addrs holds the validated addresses
// so the caller can dial them directly instead of resolving again.
type Result struct {
	Allowed bool
	Reason  string
	Host    string
	Port    int
	Addrs   []netip.Addr
}

// Config configures a Guard.
type Config struct {
	// Resolver defaults to net.DefaultResolver.
	Resolver Resolver

	// DeniedDomains are extra domain patterns refused before DNS.
	// Supports exact match and "*.example.com" wildcards.
	DeniedDomains []string

	// LookupTimeout bounds each lookup. Zero means DefaultLookupTimeout.
	LookupTimeout time.Duration
}

// Guard validates URLs. It is safe for concurrent use.
type Guard struct {
	resolver Resolver
	denied   []string
	timeout  time.Duration
}

// New creates a Guard. A nil config yields the default resolver and no extra
// denied domains.
func New(cfg *Config) *Guard {
	g := &Guard{
		resolver: net.DefaultResolver,
		timeout:  DefaultLookupTimeout,
	}
	if cfg == nil {
		return g
	}
	if cfg.Resolver != nil {
		g.resolver = cfg.Resolver
	}
	if cfg.LookupTimeout > 0 {
		g.timeout = cfg.LookupTimeout
	}
	g.denied = make([]string, len(cfg.DeniedDomains))
	copy(g.denied, cfg.DeniedDomains)
	return g
}

// Validate reports whether rawURL may be fetched, with a reason when not.
func (g *Guard) Validate(ctx context.Context, rawURL string) (bool, string) {
	r := g.Check(ctx, rawURL)
	return r.Allowed, r.Reason
}

// Check validates rawURL and returns the addresses it was validated against.
func (g *Guard) Check(ctx context.Context, rawURL string) Result {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return deny(fmt.Sprintf("Invalid URL: %v", err))
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		got := u.Scheme
		if got == "" {
			got = "none"
		}
		return deny(fmt.Sprintf("Only http/https allowed, got '%s'", got))
	}
	if u.Host == "" {
		return deny("Missing domain")
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return deny("Missing hostname")
	}

	port, err := portOf(u, scheme)
	if err != nil {
		return deny(fmt.Sprintf("Invalid port: %v", err))
	}

	if blockedHosts[host] {
		return deny(fmt.Sprintf("Blocked host: %s", host))
	}

	res := Result{Host: host, Port: port}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isInternalAddr(addr) {
			res.Reason = fmt.Sprintf("URL resolves to internal IP: %s", addr)
			return res
		}
		res.Allowed = true
		res.Addrs = []netip.Addr{addr.Unmap()}
		return res
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		res.Reason = fmt.Sprintf("Invalid hostname: %s", host)
		return res
	}
	res.Host = ascii

	for _, pattern := range g.denied {
		if matchesDomain(ascii, pattern) {
			res.Reason = fmt.Sprintf("Blocked host: %s", ascii)
			return res
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	addrs, err := g.resolver.LookupNetIP(lookupCtx, "ip", ascii)
	if err != nil || len(addrs) == 0 {
		res.Reason = fmt.Sprintf("Could not resolve hostname: %s", ascii)
		return res
	}

	for _, addr := range addrs {
		if isInternalAddr(addr) {
			res.Reason = fmt.Sprintf("URL resolves to internal IP: %s", addr)
			return res
		}
	}

	res.Allowed = true
	res.Addrs = make([]netip.Addr, len(addrs))
	for i, addr := range addrs {
		res.Addrs[i] = addr.Unmap()
	}
	return res
}

func deny(reason string) Result {
	return Result{Reason: reason}
}

func portOf(u *url.URL, scheme string) (int, error) {
	p := u.Port()
	if p == "" {
		if scheme == "https" {
			return 443, nil
		}
		return 80, nil
	}
	n, err := strconv.Atoi(p)
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("%q out of range", p)
	}
	return n, nil
}

// matchesDomain reports whether host matches pattern. "*.example.com" matches
// subdomains but not example.com itself.
func matchesDomain(host, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.TrimSuffix(strings.ToLower(pattern), ".")
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return host == pattern
}
