// Package httpcache implements spec.md §4.8: a request-fingerprinted,
// LRU-bounded HTTP cache with RFC 7234 freshness/validation semantics.
package httpcache

import (
	"net/url"
	"sort"
	"strings"

	"netstack/internal/netreq"
)

// varyBlacklist lists query parameters excluded from the fingerprint even
// when present, per spec.md §4.8 ("sorted query parameters except those
// listed in Vary-blacklist") — cache-busting params that don't affect
// response content.
var varyBlacklist = map[string]bool{
	"_":    true,
	"t":    true,
	"ts":   true,
	"rand": true,
}

// Fingerprint is the cache key: normalized URL, method, and the request
// header values named in the stored response's Vary header.
type Fingerprint struct {
	key string
}

func (f Fingerprint) String() string { return f.key }

// Compute builds the fingerprint for method+u, given a header lookup
// function used to read the Vary-selected request headers.
func Compute(method string, u *url.URL, varyHeaders []string, getHeader func(string) string) Fingerprint {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(' ')
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	b.WriteString(strings.ToLower(u.Hostname()))
	b.WriteByte(':')
	b.WriteString(port(u))
	b.WriteString(u.EscapedPath())

	b.WriteByte('?')
	b.WriteString(normalizedQuery(u))

	sorted := append([]string(nil), varyHeaders...)
	sort.Strings(sorted)
	for _, h := range sorted {
		b.WriteByte('|')
		b.WriteString(strings.ToLower(h))
		b.WriteByte('=')
		if getHeader != nil {
			b.WriteString(getHeader(h))
		}
	}
	return Fingerprint{key: b.String()}
}

// ComputeForRequest is a convenience wrapper around Compute for a
// netreq.NetworkRequest, using any previously observed Vary headers.
func ComputeForRequest(req *netreq.NetworkRequest, varyHeaders []string) Fingerprint {
	var getHeader func(string) string
	if req.Header != nil {
		getHeader = req.Header.Get
	}
	return Compute(string(req.Method), req.URL, varyHeaders, getHeader)
}

func port(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch u.Scheme {
	case "https":
		return "443"
	default:
		return "80"
	}
}

func normalizedQuery(u *url.URL) string {
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		if varyBlacklist[strings.ToLower(k)] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		vs := append([]string(nil), q[k]...)
		sort.Strings(vs)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(vs, ","))
	}
	return b.String()
}
