// Package publicip looks up the caller's public IPv4 address from an ordered
// list of external services.
//
// Endpoints are tried in order and the first one that answers with a valid
// dotted-quad wins; later endpoints are never contacted. Two kinds of endpoint
// are understood:
//
//	http://checkip.amazonaws.com                   plain-text body holding the address
//	dns://resolver1.opendns.com/myip.opendns.com    A query for the name at the resolver
package publicip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/evanofslack/cloudflare-ddns/internal/metrics"
	"github.com/miekg/dns"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodySize    = 1 << 10
)

// ErrNoneAvailable is returned when every endpoint failed to produce an address.
var ErrNoneAvailable = errors.New("no valid IP could be obtained, network outage?")

type Httper interface {
	Do(req *http.Request) (*http.Response, error)
}

type Resolver struct {
	endpoints []string
	http      Httper
	dns       *dns.Client
	timeout   time.Duration
	metrics   *metrics.Metrics
}

type Option func(*Resolver)

func WithHTTPClient(client Httper) Option {
	return func(r *Resolver) {
		if client != nil {
			r.http = client
		}
	}
}

func WithDNSClient(client *dns.Client) Option {
	return func(r *Resolver) {
		if client != nil {
			r.dns = client
		}
	}
}

// WithTimeout bounds each endpoint lookup.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Resolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func New(endpoints []string, opts ...Option) *Resolver {
	r := &Resolver{
		endpoints: endpoints,
		http:      &http.Client{},
		dns:       &dns.Client{Net: "udp4"},
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	for _, endpoint := range r.endpoints {
		ip, err := r.lookup(ctx, endpoint)
		r.observe(endpoint, err == nil)
		if err != nil {
			slog.Debug("IP endpoint failed, trying next", "endpoint", endpoint, "error", err)
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: %w", ErrNoneAvailable, ctx.Err())
			}
			continue
		}
		slog.Info("IP endpoint returned valid address", "endpoint", endpoint, "ip", ip)
		return ip, nil
	}
	return "", ErrNoneAvailable
}

func (r *Resolver) observe(endpoint string, success bool) {
	if r.metrics != nil {
		r.metrics.IncIPLookup(endpoint, success)
	}
}

func (r *Resolver) lookup(ctx context.Context, endpoint string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "dns":
		return r.lookupDNS(ctx, u)
	default:
		return r.lookupHTTP(ctx, endpoint)
	}
}

func (r *Resolver) lookupHTTP(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("http request returned status=%d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return ParseIPv4(string(body))
}

// lookupDNS asks the resolver in the endpoint's host for the A record of the
// name in its path.
func (r *Resolver) lookupDNS(ctx context.Context, u *url.URL) (string, error) {
	name := strings.Trim(u.Path, "/")
	if name == "" {
		return "", errors.New("dns endpoint has no name to query")
	}
	server := u.Host
	if u.Port() == "" {
		server = net.JoinHostPort(u.Hostname(), "53")
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.RecursionDesired = true

	resp, _, err := r.dns.ExchangeContext(ctx, m, server)
	if err != nil {
		return "", fmt.Errorf("dns exchange: %w", err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("dns query returned rcode=%s", dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			return ParseIPv4(a.A.String())
		}
	}
	return "", errors.New("dns answer has no A record")
}

// ParseIPv4 trims surrounding whitespace and accepts only a strict dotted-quad.
func ParseIPv4(s string) (string, error) {
	candidate := strings.TrimSpace(s)

	addr, err := netip.ParseAddr(candidate)
	if err != nil {
		return "", fmt.Errorf("parse ip: %w", err)
	}
	if !addr.Is4() {
		return "", fmt.Errorf("not an IPv4 address: %q", candidate)
	}
	return candidate, nil
}
