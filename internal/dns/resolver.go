// Package dns implements spec.md §4.2: async host -> address resolution
// with system fallback, optional DNS-over-HTTPS, and a TTL cache.
package dns

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/net/idna"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"netstack/internal/nserr"
)

// Doer is the minimal HTTP client surface DoH needs. The stack's own
// HTTP/2 client satisfies this; tests substitute http.DefaultClient or a
// fake.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Resolver.
type Config struct {
	// DoHURL, if non-empty, enables DNS-over-HTTPS resolution against
	// this resolver URL (e.g. "https://dns.google/dns-query").
	DoHURL string
	// DoHClient performs the DoH POST. Required when DoHURL is set.
	DoHClient Doer
	// Bootstrap resolves the DoH resolver's own hostname, breaking the
	// cyclic dependency described in spec.md §9: the DNS module must not
	// call back into DoH to resolve its own endpoint.
	Bootstrap *net.Resolver

	Logger *zap.Logger
}

// Resolver resolves hostnames to IP addresses, per spec.md §4.2.
type Resolver struct {
	cfg    Config
	cache  *cache
	group  singleflight.Group
	system *net.Resolver
	logger *zap.Logger
}

// New returns a Resolver. System resolution is always available;
// DoH is used only when cfg.DoHURL is set.
func New(cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bootstrap := cfg.Bootstrap
	if bootstrap == nil {
		bootstrap = net.DefaultResolver
	}
	cfg.Bootstrap = bootstrap
	return &Resolver{
		cfg:    cfg,
		cache:  newCache(nil),
		system: net.DefaultResolver,
		logger: logger,
	}
}

// Resolve returns an ordered list of IP addresses for host, honoring
// ctx's deadline. Concurrent lookups for the same host are coalesced via
// singleflight (spec.md §4.2, §5).
func (r *Resolver) Resolve(ctx context.Context, host string) ([]string, error) {
	if addr := net.ParseIP(host); addr != nil {
		return []string{host}, nil
	}
	host = toASCIIHost(host)
	if addrs, ok := r.cache.get(host); ok {
		return addrs, nil
	}

	v, err, _ := r.group.Do(normalizeHost(host), func() (any, error) {
		addrs, ttl, err := r.lookup(ctx, host)
		if err != nil {
			return nil, err
		}
		r.cache.set(host, addrs, ttl)
		return addrs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (r *Resolver) lookup(ctx context.Context, host string) ([]string, time.Duration, error) {
	if r.cfg.DoHURL != "" && r.cfg.DoHClient != nil && !isBootstrapTarget(r.cfg.DoHURL, host) {
		addrs, ttl, err := r.lookupDoH(ctx, host)
		if err == nil {
			return addrs, ttl, nil
		}
		r.logger.Warn("doh lookup failed, falling back to system resolver",
			zap.String("host", host), zap.Error(err))
	}
	return r.lookupSystem(ctx, host)
}

// toASCIIHost converts an internationalized hostname to its punycode
// ("xn--") form so lookup, caching, and the wire query all key on the
// same ASCII label set. Hosts that fail IDNA validation are looked up
// as given; the system/DoH resolvers will reject them on their own.
func toASCIIHost(host string) string {
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return host
	}
	return ascii
}

func isBootstrapTarget(resolverURL, host string) bool {
	u, err := parseHostFromURL(resolverURL)
	return err == nil && normalizeHost(u) == normalizeHost(host)
}

func (r *Resolver) lookupSystem(ctx context.Context, host string) ([]string, time.Duration, error) {
	resolver := r.system
	if r.cfg.DoHURL != "" && isBootstrapTarget(r.cfg.DoHURL, host) {
		resolver = r.cfg.Bootstrap
	}
	ips, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			return nil, 0, nserr.Dns(fmt.Errorf("nxdomain: %w", err))
		}
		return nil, 0, nserr.Dns(err)
	}
	if len(ips) == 0 {
		return nil, 0, nserr.Dns(fmt.Errorf("no addresses for %s", host))
	}
	addrs := make([]string, len(ips))
	for i, ip := range ips {
		addrs[i] = ip.IP.String()
	}
	return addrs, minTTL, nil
}

// doHQueryResult holds one qtype's worth of DoH answer records.
type doHQueryResult struct {
	addrs []string
	ttl   time.Duration
}

// lookupDoH resolves host by POSTing an application/dns-message request
// to cfg.DoHURL, per RFC 8484. The A and AAAA queries run concurrently
// via errgroup, since they're independent round-trips to the same
// resolver and neither depends on the other's result.
func (r *Resolver) lookupDoH(ctx context.Context, host string) ([]string, time.Duration, error) {
	qtypes := []uint16{dns.TypeA, dns.TypeAAAA}
	results := make([]doHQueryResult, len(qtypes))

	g, gctx := errgroup.WithContext(ctx)
	for i, qtype := range qtypes {
		g.Go(func() error {
			res, err := r.queryDoH(gctx, host, qtype)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var addrs []string
	minRecordTTL := maxTTL
	for _, res := range results {
		addrs = append(addrs, res.addrs...)
		if res.ttl < minRecordTTL {
			minRecordTTL = res.ttl
		}
	}

	if len(addrs) == 0 {
		return nil, 0, nserr.Dns(fmt.Errorf("doh: no addresses for %s", host))
	}
	return addrs, minRecordTTL, nil
}

// queryDoH sends a single A or AAAA query to cfg.DoHURL.
func (r *Resolver) queryDoH(ctx context.Context, host string, qtype uint16) (doHQueryResult, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	packed, err := msg.Pack()
	if err != nil {
		return doHQueryResult{}, nserr.Dns(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.DoHURL, bytes.NewReader(packed))
	if err != nil {
		return doHQueryResult{}, nserr.Dns(err)
	}
	httpReq.Header.Set("Content-Type", "application/dns-message")
	httpReq.Header.Set("Accept", "application/dns-message")

	resp, err := r.cfg.DoHClient.Do(httpReq)
	if err != nil {
		return doHQueryResult{}, nserr.Dns(err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
	if err != nil {
		return doHQueryResult{}, nserr.Dns(err)
	}
	if resp.StatusCode != http.StatusOK {
		return doHQueryResult{}, nserr.Dns(fmt.Errorf("doh resolver returned status %d", resp.StatusCode))
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(body); err != nil {
		return doHQueryResult{}, nserr.Dns(err)
	}

	var res doHQueryResult
	res.ttl = maxTTL
	for _, rr := range reply.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			res.addrs = append(res.addrs, rec.A.String())
			if ttl := time.Duration(rec.Hdr.Ttl) * time.Second; ttl < res.ttl {
				res.ttl = ttl
			}
		case *dns.AAAA:
			res.addrs = append(res.addrs, rec.AAAA.String())
			if ttl := time.Duration(rec.Hdr.Ttl) * time.Second; ttl < res.ttl {
				res.ttl = ttl
			}
		}
	}
	return res, nil
}

func parseHostFromURL(rawURL string) (string, error) {
	u, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	return u.URL.Hostname(), nil
}
