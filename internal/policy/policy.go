// Package policy validates proxy destinations before any outbound
// connection is made.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/dgnsrekt/apiscope/internal/netutil"
	"github.com/dgnsrekt/apiscope/internal/types"
)

// Rejection reasons.
const (
	ReasonInvalidURL = "invalid URL"
	ReasonProtocol   = "protocol not allowed"
	ReasonPrivateIP  = "private IP address not allowed"
	ReasonBlocked    = "domain is blocked"
	ReasonNotAllowed = "domain is not in the allow list"
)

// Options configures a Policy.
type Options struct {
	BlockedDomains []string
	AllowedDomains []string
	// AllowPrivate permits loopback and private destinations. Local
	// development and tests only.
	AllowPrivate bool
	// LookupIP resolves host names. Defaults to net.DefaultResolver.
	LookupIP func(ctx context.Context, host string) ([]net.IP, error)
}

// Policy is the destination validation policy shared by the gateway and
// the tunnel.
type Policy struct {
	blocked      []string
	allowed      []string
	allowPrivate bool
	lookupIP     func(ctx context.Context, host string) ([]net.IP, error)
}

// Result mirrors the validation contract: valid, or an error reason.
type Result struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func New(opts Options) *Policy {
	p := &Policy{
		blocked:      normalizeDomains(opts.BlockedDomains),
		allowed:      normalizeDomains(opts.AllowedDomains),
		allowPrivate: opts.AllowPrivate,
		lookupIP:     opts.LookupIP,
	}
	if p.lookupIP == nil {
		p.lookupIP = func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		}
	}
	return p
}

// Validate checks an http(s) destination URL.
func (p *Policy) Validate(ctx context.Context, rawURL string) Result {
	return p.validate(ctx, rawURL, "http", "https")
}

// ValidateSocket checks a websocket destination URL. http(s) URLs are
// accepted too since they map onto ws(s).
func (p *Policy) ValidateSocket(ctx context.Context, rawURL string) Result {
	return p.validate(ctx, rawURL, "ws", "wss", "http", "https")
}

// Check is Validate returning a VALIDATION coded error.
func (p *Policy) Check(ctx context.Context, rawURL string) error {
	return asError(rawURL, p.Validate(ctx, rawURL))
}

// CheckSocket is ValidateSocket returning a VALIDATION coded error.
func (p *Policy) CheckSocket(ctx context.Context, rawURL string) error {
	return asError(rawURL, p.ValidateSocket(ctx, rawURL))
}

func asError(rawURL string, res Result) error {
	if res.Valid {
		return nil
	}
	return types.NewError(types.CodeValidation, fmt.Sprintf("destination %q rejected: %s", rawURL, res.Error), nil)
}

func (p *Policy) validate(ctx context.Context, rawURL string, schemes ...string) Result {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Result{Error: ReasonInvalidURL}
	}
	scheme := strings.ToLower(u.Scheme)
	if !contains(schemes, scheme) {
		return Result{Error: ReasonProtocol}
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return Result{Error: ReasonInvalidURL}
	}

	if matchesDomain(p.blocked, host) {
		return Result{Error: ReasonBlocked}
	}
	if len(p.allowed) > 0 && !matchesDomain(p.allowed, host) {
		return Result{Error: ReasonNotAllowed}
	}
	if p.allowPrivate {
		return Result{Valid: true}
	}

	if netutil.IsLocalHostname(host) {
		return Result{Error: ReasonPrivateIP}
	}
	if ip := net.ParseIP(host); ip != nil {
		if netutil.IsPrivateIP(ip) {
			return Result{Error: ReasonPrivateIP}
		}
		return Result{Valid: true}
	}

	ips, err := p.lookupIP(ctx, host)
	if err != nil {
		// Unresolvable hosts fail at dial time and surface as an upstream
		// failure with a capture record.
		slog.Debug("Destination lookup failed", "host", host, "error", err)
		return Result{Valid: true}
	}
	for _, ip := range ips {
		if netutil.IsPrivateIP(ip) {
			return Result{Error: ReasonPrivateIP}
		}
	}
	return Result{Valid: true}
}

// DialControl is a net.Dialer Control hook that refuses connections to
// private addresses. It closes the gap between validation-time DNS and
// the address actually dialed.
func (p *Policy) DialControl(network, address string, _ syscall.RawConn) error {
	if p.allowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if ip := net.ParseIP(host); ip != nil && netutil.IsPrivateIP(ip) {
		return fmt.Errorf("dial %s %s: %s", network, address, ReasonPrivateIP)
	}
	return nil
}

// AllowPrivate reports whether private destinations are permitted.
func (p *Policy) AllowPrivate() bool { return p.allowPrivate }

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "*.")
		d = strings.TrimSuffix(d, ".")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// matchesDomain matches host against a domain or any of its subdomains.
func matchesDomain(domains []string, host string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
