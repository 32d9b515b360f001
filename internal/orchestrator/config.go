package orchestrator

import (
	"crypto/x509"
	"time"

	"go.uber.org/zap"

	"netstack/internal/bandwidth"
	"netstack/internal/cors"
	"netstack/internal/dns"
	"netstack/internal/events"
	"netstack/internal/nserr"
	"netstack/internal/proxy"
	"netstack/internal/tlsmgr"
)

// Config configures an Orchestrator. It is validated once in New, mirroring
// the validate-at-construction discipline spec.md's ambient stack calls
// for: an invalid Config never reaches a running Orchestrator.
type Config struct {
	// MaxConcurrent bounds total in-flight requests across all three
	// scheduler priority queues (spec.md §4.1 step 5).
	MaxConcurrent int
	// MaxRedirects bounds automatic redirect following (spec.md §4.1
	// step 11); 0 selects the default of 10.
	MaxRedirects int
	// CacheMaxBytes bounds the HTTP cache's live byte budget.
	CacheMaxBytes int64
	// FileRoots are the allow-listed directories file: URLs may read
	// from (spec.md §4.1 step 1).
	FileRoots []string

	// EnableHTTP3 opts into attempting QUIC/HTTP-3 before falling back
	// to HTTP/2 or HTTP/1.1, per spec.md §4.1 step 9.
	EnableHTTP3 bool
	// RootCAs overrides the system trust store for chain verification.
	RootCAs *x509.CertPool
	// ALPNOffer is the TLS ALPN offer list; defaults to ["h2", "http/1.1"].
	ALPNOffer []string

	// DoHURL optionally enables DNS-over-HTTPS resolution.
	DoHURL string

	// Proxy optionally routes all non-bypassed requests through an
	// upstream proxy (spec.md §4.1 step 8).
	Proxy *proxy.Config

	// CORS configures cross-origin validation (spec.md §4.1 steps 3, 12).
	CORS cors.Config

	// Bandwidth throttles transfer per spec.md §4.12; the zero value
	// disables throttling (no token-bucket wait, no injected latency).
	// PresetOffline's tuple is also the zero value, so it leaves
	// transfers unthrottled here too.
	Bandwidth bandwidth.Tuple

	Logger *zap.Logger
	Events *events.Bus
}

const defaultMaxRedirects = 10

func (c Config) validate() error {
	if c.MaxConcurrent < 0 {
		return nserr.New(nserr.KindInvalidConfig, "MaxConcurrent must not be negative")
	}
	if c.CacheMaxBytes < 0 {
		return nserr.New(nserr.KindInvalidConfig, "CacheMaxBytes must not be negative")
	}
	if c.CORS.AllowCredentials {
		for _, o := range c.CORS.AllowedOrigins {
			if o == "*" {
				return nserr.New(nserr.KindInvalidConfig, "wildcard origin is invalid when AllowCredentials is set")
			}
		}
	}
	return nil
}

func (c Config) resolved() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 32
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = defaultMaxRedirects
	}
	if c.CacheMaxBytes <= 0 {
		c.CacheMaxBytes = 64 << 20 // 64 MiB
	}
	if len(c.ALPNOffer) == 0 {
		c.ALPNOffer = []string{"h2", "http/1.1"}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Events == nil {
		c.Events = events.New()
	}
	return c
}

func (c Config) dnsConfig(doh dns.Doer) dns.Config {
	return dns.Config{
		DoHURL:    c.DoHURL,
		DoHClient: doh,
		Logger:    c.Logger,
	}
}

func (c Config) tlsConfig() tlsmgr.Config {
	return tlsmgr.Config{
		RootCAs:   c.RootCAs,
		ALPNOffer: c.ALPNOffer,
		Events:    c.Events,
		Logger:    c.Logger,
	}
}

// Per-phase deadlines bound each stage of the fetch pipeline independently,
// per spec.md §7: "each phase has a deadline; total deadline is the outer
// timeout. A deadline miss yields Timeout(duration), never a hang." Each
// phase context is still derived from the caller's own context, so an
// outer deadline shorter than these still applies.
const (
	dnsPhaseTimeout     = 5 * time.Second
	connectTimeout      = 15 * time.Second // TCP connect phase
	tlsHandshakeTimeout = 10 * time.Second
	ttfbTimeout         = 30 * time.Second
)
