// Package resolver provides the default Resolver collaborator:
// getEndpoint(name, options, callback) -> Error, with the callback
// receiving (endpoint, context) where context carries authority, latency,
// name server, and source classification.
//
// Backed by github.com/miekg/dns for real wire-level queries, falling back
// to net.DefaultResolver for literal addresses and /etc/hosts-style lookups
// — the same layering rclone uses for its own DNS resolution.
package resolver

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Source classifies where a resolved endpoint came from.
type Source int

const (
	SourceUnknown Source = iota
	SourceLiteral        // the name was already a literal IP
	SourceCache
	SourceNameServer
	SourceHostsFile
)

// Context carries the metadata for a resolution result.
type Context struct {
	Authoritative bool
	Latency       time.Duration
	NameServer    string
	Source        Source
}

// Callback receives the resolved endpoint (host:port form) and its Context,
// or an error.
type Callback func(endpoint string, ctx Context, err error)

// Options configures one resolution.
type Options struct {
	PreferIPv6 bool
	Timeout    time.Duration
}

// Resolver is the core's Resolver collaborator.
type Resolver interface {
	GetEndpoint(name string, opts Options, cb Callback) error
}

type cacheEntry struct {
	endpoint string
	expiry   time.Time
}

// Default is the default Resolver, with a small TTL cache of resolved
// endpoints.
type Default struct {
	NameServer string // "host:port"; empty uses /etc/resolv.conf via the system resolver
	TTL        time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewDefault returns a Default resolver with a 30 second cache TTL.
func NewDefault(nameServer string) *Default {
	return &Default{NameServer: nameServer, TTL: 30 * time.Second, cache: make(map[string]cacheEntry)}
}

// GetEndpoint resolves name (optionally "host:port") asynchronously,
// invoking cb exactly once unless it returns an error, in which case cb is
// not invoked.
func (d *Default) GetEndpoint(name string, opts Options, cb Callback) error {
	host, port, err := splitHostPort(name)
	if err != nil {
		return err
	}

	if ip := net.ParseIP(host); ip != nil {
		go cb(net.JoinHostPort(host, port), Context{Source: SourceLiteral}, nil)
		return nil
	}

	d.mu.Lock()
	if entry, ok := d.cache[host]; ok && time.Now().Before(entry.expiry) {
		d.mu.Unlock()
		go cb(net.JoinHostPort(entry.endpoint, port), Context{Source: SourceCache}, nil)
		return nil
	}
	d.mu.Unlock()

	go d.resolveAsync(host, port, opts, cb)
	return nil
}

func (d *Default) resolveAsync(host, port string, opts Options, cb Callback) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	start := time.Now()

	if d.NameServer != "" {
		ip, authoritative, err := d.queryNameServer(host, opts, timeout)
		latency := time.Since(start)
		if err == nil {
			d.mu.Lock()
			d.cache[host] = cacheEntry{endpoint: ip, expiry: time.Now().Add(d.TTL)}
			d.mu.Unlock()
			cb(net.JoinHostPort(ip, port), Context{
				Authoritative: authoritative,
				Latency:       latency,
				NameServer:    d.NameServer,
				Source:        SourceNameServer,
			}, nil)
			return
		}
	}

	// Fall back to the system resolver, which also consults /etc/hosts.
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ips, err := net.DefaultResolver.LookupHost(ctx, host)
	latency := time.Since(start)
	if err != nil {
		cb("", Context{Latency: latency}, err)
		return
	}
	ip := ips[0]
	if opts.PreferIPv6 {
		for _, c := range ips {
			if p := net.ParseIP(c); p != nil && p.To4() == nil {
				ip = c
				break
			}
		}
	}
	d.mu.Lock()
	d.cache[host] = cacheEntry{endpoint: ip, expiry: time.Now().Add(d.TTL)}
	d.mu.Unlock()
	cb(net.JoinHostPort(ip, port), Context{Latency: latency, Source: SourceHostsFile}, nil)
}

func (d *Default) queryNameServer(host string, opts Options, timeout time.Duration) (ip string, authoritative bool, err error) {
	qtype := dns.TypeA
	if opts.PreferIPv6 {
		qtype = dns.TypeAAAA
	}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	c := new(dns.Client)
	c.Timeout = timeout

	resp, _, err := c.Exchange(m, d.NameServer)
	if err != nil {
		return "", false, err
	}
	for _, ans := range resp.Answer {
		switch rr := ans.(type) {
		case *dns.A:
			return rr.A.String(), resp.Authoritative, nil
		case *dns.AAAA:
			return rr.AAAA.String(), resp.Authoritative, nil
		}
	}
	return "", false, &net.DNSError{Err: "no answer", Name: host}
}

func splitHostPort(name string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(name)
	if err != nil {
		return name, "0", nil
	}
	if _, convErr := strconv.Atoi(port); convErr != nil {
		return "", "", convErr
	}
	return host, port, nil
}

var _ Resolver = (*Default)(nil)
