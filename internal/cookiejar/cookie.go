// Package cookiejar implements spec.md §4.9: an RFC 6265bis-style cookie
// jar with domain/path/secure/HttpOnly/SameSite enforcement.
package cookiejar

import (
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// SameSite is the cookie's SameSite attribute.
type SameSite int

const (
	SameSiteNone SameSite = iota
	SameSiteLax
	SameSiteStrict
)

// Cookie is a single stored cookie, per spec.md §3.
type Cookie struct {
	Name     string
	Value    string
	Domain   string // always lowercased, leading dot stripped
	Path     string
	Expiry   time.Time // zero means session cookie (never expires here)
	Secure   bool
	HTTPOnly bool
	SameSite SameSite
	Created  time.Time
}

func (c Cookie) expired(now time.Time) bool {
	return !c.Expiry.IsZero() && now.After(c.Expiry)
}

// key identifies a stored cookie's storage slot: (domain, path, name).
// Later writes with the same key overwrite, per spec.md §3.
type key struct {
	domain, path, name string
}

func domainMatches(cookieDomain, requestHost string) bool {
	cookieDomain = strings.ToLower(cookieDomain)
	requestHost = strings.ToLower(requestHost)
	if cookieDomain == requestHost {
		return true
	}
	if !strings.HasSuffix(requestHost, "."+cookieDomain) {
		return false
	}
	return true
}

// isPublicSuffix reports whether domain is itself a registry suffix
// (e.g. "com", "co.uk") rather than a registrable domain, per RFC 6265bis
// §5.1.3: a server must not set a cookie whose Domain attribute is a
// public suffix, since that would let it affect every site under it.
func isPublicSuffix(domain string) bool {
	suffix, icann := publicsuffix.PublicSuffix(strings.ToLower(domain))
	return icann && suffix == domain
}

func pathMatches(cookiePath, requestPath string) bool {
	if requestPath == "" {
		requestPath = "/"
	}
	if cookiePath == requestPath {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	if strings.HasSuffix(cookiePath, "/") {
		return true
	}
	return requestPath[len(cookiePath)] == '/'
}
