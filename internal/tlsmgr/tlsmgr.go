// Package tlsmgr implements spec.md §4.3: TLS configuration, certificate
// chain/hostname/expiry validation, an HSTS store, and a pin registry.
package tlsmgr

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"strings"
	"time"

	"go.uber.org/zap"

	"netstack/internal/events"
	"netstack/internal/nserr"
)

func base64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// Config configures a Manager.
type Config struct {
	// RootCAs is the trust store used for chain validation. A nil value
	// uses the host's default system root pool.
	RootCAs *x509.CertPool
	// ALPNOffer is the ordered protocol offer list, e.g.
	// ["h2", "http/1.1"].
	ALPNOffer []string

	Events *events.Bus
	Logger *zap.Logger
}

// Manager is the TLS configuration/verification/HSTS/pin authority for
// the orchestrator, shared by reference across all protocol clients.
type Manager struct {
	cfg    Config
	pins   *pinSet
	hsts   *hstsStore
	logger *zap.Logger
	events *events.Bus
}

// New returns a Manager.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := cfg.Events
	if bus == nil {
		bus = events.New()
	}
	return &Manager{
		cfg:    cfg,
		pins:   newPinSet(),
		hsts:   newHSTSStore(nil),
		logger: logger,
		events: bus,
	}
}

// Configure returns a *tls.Config offering cfg.ALPNOffer over ALPN and
// delegating chain verification to Verify via VerifyPeerCertificate
// (InsecureSkipVerify is set so the stdlib's own chain check does not
// run twice; Verify performs the equivalent check itself, plus pinning).
func (m *Manager) Configure(serverName string) *tls.Config {
	offer := m.cfg.ALPNOffer
	if len(offer) == 0 {
		offer = []string{"h2", "http/1.1"}
	}
	return &tls.Config{
		ServerName:         serverName,
		NextProtos:         offer,
		RootCAs:            m.cfg.RootCAs,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			chain := make([]*x509.Certificate, 0, len(rawCerts))
			for _, raw := range rawCerts {
				cert, err := x509.ParseCertificate(raw)
				if err != nil {
					return nserr.Tls(err)
				}
				chain = append(chain, cert)
			}
			return m.Verify(chain, serverName)
		},
	}
}

// Verify implements the verification ordering of spec.md §4.3: a
// registered pin for host supersedes full chain validation; otherwise
// validity window, hostname, and chain-to-root are all checked.
func (m *Manager) Verify(chain []*x509.Certificate, host string) error {
	if len(chain) == 0 {
		return nserr.Certificate(errNoChain)
	}

	if m.pins.IsPinned(host) {
		if m.pins.matches(host, chain) {
			return nil
		}
		m.events.Emit(events.Event{
			Kind:    events.KindSecurityWarning,
			URL:     host,
			Warning: events.WarningPinMismatch,
			Details: "no certificate in the chain matched a registered pin",
		})
		return nserr.Certificate(errPinMismatch)
	}

	now := time.Now()
	leaf := chain[0]
	for _, cert := range chain {
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return nserr.Certificate(errExpired)
		}
	}

	if err := verifyHostname(leaf, host); err != nil {
		return nserr.Certificate(err)
	}

	pool := m.cfg.RootCAs
	if pool == nil {
		var err error
		pool, err = x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
	}
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}
	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         pool,
		Intermediates: intermediates,
		CurrentTime:   now,
	}); err != nil {
		return nserr.Certificate(err)
	}
	return nil
}

// verifyHostname checks host against the leaf's SAN entries (DNS and IP
// forms), falling back to the CN only when SAN is absent, and supports a
// single leftmost '*' wildcard label, per spec.md §4.3.
func verifyHostname(leaf *x509.Certificate, host string) error {
	host = strings.ToLower(host)

	names := leaf.DNSNames
	if len(leaf.IPAddresses) > 0 {
		for _, ip := range leaf.IPAddresses {
			if ip.String() == host {
				return nil
			}
		}
	}
	if len(names) == 0 && leaf.Subject.CommonName != "" {
		names = []string{leaf.Subject.CommonName}
	}
	for _, name := range names {
		if matchHostname(strings.ToLower(name), host) {
			return nil
		}
	}
	return errHostnameMismatch
}

func matchHostname(pattern, host string) bool {
	if pattern == host {
		return true
	}
	if !strings.HasPrefix(pattern, "*.") {
		return false
	}
	patternRest := pattern[2:]
	dot := strings.IndexByte(host, '.')
	if dot < 0 {
		return false
	}
	return host[dot+1:] == patternRest
}

// AddPin registers an SPKI pin for host.
func (m *Manager) AddPin(host string, digest PinDigest) { m.pins.AddPin(host, digest) }

// RemovePin removes a previously registered pin for host.
func (m *Manager) RemovePin(host string, digest PinDigest) { m.pins.RemovePin(host, digest) }

// IsPinned reports whether host has at least one registered pin.
func (m *Manager) IsPinned(host string) bool { return m.pins.IsPinned(host) }

// HSTSLookup returns the HSTS entry matching host, if any.
func (m *Manager) HSTSLookup(host string) (HSTSEntry, bool) { return m.hsts.Lookup(host) }

// HSTSRecord stores an HSTS policy for host.
func (m *Manager) HSTSRecord(host string, maxAge time.Duration, includeSubdomains bool) {
	m.hsts.Record(host, maxAge, includeSubdomains)
}

// PreloadHSTS bulk-loads a static preload list at construction time.
func (m *Manager) PreloadHSTS(entries []HSTSEntry) { m.hsts.Preload(entries) }

var (
	errNoChain          = tlsErr("empty certificate chain")
	errPinMismatch      = tlsErr("no chain certificate matched a registered pin")
	errExpired          = tlsErr("certificate outside its validity window")
	errHostnameMismatch = tlsErr("hostname does not match certificate SAN/CN")
)

type tlsErr string

func (e tlsErr) Error() string { return string(e) }
