// Package mixedcontent implements spec.md §4.1 step 2: classifying an
// HTTP subresource loaded from an HTTPS context as active or passive
// mixed content, rewriting its scheme when an HSTS entry applies, and
// the Upgrade-Insecure-Requests opt-in header. It is grounded on the
// same HSTS lookup the TLS manager exposes (internal/tlsmgr) rather
// than a second store, since both components must agree on which
// hosts are HSTS-protected.
package mixedcontent

import (
	"net/url"
	"strings"

	"netstack/internal/netreq"
	"netstack/internal/nserr"
)

// Checker evaluates subresource loads for mixed content per spec.md
// §4.1 step 2.
type Checker struct {
	// UpgradeInsecureRequests, when true, adds the
	// Upgrade-Insecure-Requests header to outgoing requests from a
	// secure document context, per spec.md §4.10.
	UpgradeInsecureRequests bool

	// HSTSMatch reports whether host has an applicable HSTS entry
	// (exact or, when IncludeSubdomains was set, a subdomain match).
	// Supplied as a function rather than the concrete *tlsmgr.Manager
	// type to keep this package decoupled from TLS internals.
	HSTSMatch func(host string) bool
}

// Classification is the outcome of a mixed-content check.
type Classification int

const (
	// ClassificationNone means the load is not mixed content (either
	// the document context is not secure, or the subresource is
	// already HTTPS/WSS).
	ClassificationNone Classification = iota
	ClassificationPassive
	ClassificationActive
)

// Check implements spec.md §4.1 step 2: if documentOrigin is secure and
// target is insecure, classify target by kind. Active content fails
// with nserr.KindMixedContent. Passive content is allowed but the
// caller should still emit a SecurityWarning event. When an HSTS entry
// matches target's host, the scheme is rewritten to https/wss in place
// and the check is recomputed (so an HSTS-protected host never reports
// mixed content).
func (c Checker) Check(documentOrigin netreq.Origin, target *url.URL, kind netreq.ResourceKind) (Classification, error) {
	if !isSecureScheme(documentOrigin.Scheme) {
		return ClassificationNone, nil
	}
	if isSecureScheme(target.Scheme) {
		return ClassificationNone, nil
	}
	if c.HSTSMatch != nil && c.HSTSMatch(strings.ToLower(target.Hostname())) {
		rewriteToSecure(target)
		return ClassificationNone, nil
	}
	if kind.Active() {
		return ClassificationActive, nserr.New(nserr.KindMixedContent, "active mixed content blocked: "+target.String())
	}
	return ClassificationPassive, nil
}

func isSecureScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "https", "wss":
		return true
	default:
		return false
	}
}

func rewriteToSecure(u *url.URL) {
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "wss"
	}
}

// ApplyUpgradeHeader sets Upgrade-Insecure-Requests: 1 on header when
// the checker opts in, per spec.md §4.10.
func (c Checker) ApplyUpgradeHeader(header *netreq.Header) {
	if c.UpgradeInsecureRequests && header != nil {
		header.Set("Upgrade-Insecure-Requests", "1")
	}
}
