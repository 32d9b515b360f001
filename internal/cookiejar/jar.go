package cookiejar

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Jar owns all cookies; readers obtain snapshots scoped to a URL, per
// spec.md §3 ownership rule.
type Jar struct {
	mu      sync.RWMutex
	cookies map[key]Cookie
	now     func() time.Time
}

// New returns an empty Jar.
func New() *Jar {
	return &Jar{cookies: make(map[key]Cookie), now: time.Now}
}

// SetFromResponse parses and stores every Set-Cookie header value
// against u, enforcing the Secure-over-HTTPS invariant from spec.md §3.
func (j *Jar) SetFromResponse(u *url.URL, setCookieHeaders []string) {
	secureScheme := u.Scheme == "https" || u.Scheme == "wss"
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, header := range setCookieHeaders {
		c, ok := ParseSetCookie(u, header)
		if !ok {
			continue
		}
		if c.Secure && !secureScheme {
			continue // Secure cookies may only be set over HTTPS
		}
		if !domainMatches(c.Domain, u.Hostname()) {
			continue // reject domain mismatches (cookie can't set a domain it isn't on)
		}
		if c.Domain != strings.ToLower(u.Hostname()) && isPublicSuffix(c.Domain) {
			continue // reject a Domain attribute that names a public suffix
		}
		k := key{domain: c.Domain, path: c.Path, name: c.Name}
		if c.expired(j.now()) {
			delete(j.cookies, k)
			continue
		}
		j.cookies[k] = c
	}
}

// CookiesFor returns the ordered list of cookies applicable to u, honoring
// domain/path/secure/expiry matching and the SameSite attachment rules of
// spec.md §4.1 step 7: Strict omits on cross-site requests; Lax omits on
// cross-site non-GET requests except top-level navigations.
func (j *Jar) CookiesFor(u *url.URL, crossSite, topLevelNavigation bool, method string) []Cookie {
	j.mu.Lock()
	now := j.now()
	secureScheme := u.Scheme == "https" || u.Scheme == "wss"
	host := strings.ToLower(u.Hostname())
	path := u.Path

	var matched []Cookie
	var expiredKeys []key
	for k, c := range j.cookies {
		if c.expired(now) {
			expiredKeys = append(expiredKeys, k)
			continue
		}
		if !domainMatches(c.Domain, host) {
			continue
		}
		if !pathMatches(c.Path, path) {
			continue
		}
		if c.Secure && !secureScheme {
			continue
		}
		if crossSite {
			switch c.SameSite {
			case SameSiteStrict:
				continue
			case SameSiteLax:
				if method != "GET" && method != "HEAD" {
					if !topLevelNavigation {
						continue
					}
				}
			}
		}
		matched = append(matched, c)
	}
	for _, k := range expiredKeys {
		delete(j.cookies, k)
	}
	j.mu.Unlock()

	// Longer paths and earlier creation times sort first, matching the
	// conventional RFC 6265 §5.4 ordering used by real cookie jars.
	sort.SliceStable(matched, func(i, k int) bool {
		if len(matched[i].Path) != len(matched[k].Path) {
			return len(matched[i].Path) > len(matched[k].Path)
		}
		return matched[i].Created.Before(matched[k].Created)
	})
	return matched
}

// Clear removes all cookies, or only those matching domain if non-empty.
func (j *Jar) Clear(domain string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if domain == "" {
		j.cookies = make(map[key]Cookie)
		return
	}
	domain = strings.ToLower(domain)
	for k := range j.cookies {
		if k.domain == domain {
			delete(j.cookies, k)
		}
	}
}
