package orchestrator

import (
	"net/url"
	"strings"

	"netstack/internal/netreq"
	"netstack/internal/nserr"
)

// redirectTarget resolves a 3xx response's Location header against base,
// per spec.md §4.1 step 11. It does not consult HSTS; the caller upgrades
// an http: target to https: when the target host has an HSTS entry.
func redirectTarget(base *url.URL, location string) (*url.URL, error) {
	loc, err := url.Parse(location)
	if err != nil {
		return nil, nserr.Wrap(nserr.KindProtocol, "invalid redirect Location header", err)
	}
	return base.ResolveReference(loc), nil
}

// nextRequestForRedirect builds the request for the next hop, applying
// the method/body rules of spec.md §4.1 step 11: 301/302 downgrade a
// non-GET/HEAD method to GET and drop the body (the long-standing
// browser behavior for those two codes); 303 always downgrades to GET;
// 307/308 preserve method and body unchanged. Credentials are stripped
// on a cross-origin hop unless Credentials is Include.
func nextRequestForRedirect(status int, prev *netreq.NetworkRequest, target *url.URL) *netreq.NetworkRequest {
	next := *prev
	next.URL = target

	switch status {
	case 301, 302:
		if prev.Method != netreq.MethodGet && prev.Method != netreq.MethodHead {
			next.Method = netreq.MethodGet
			next.Body = nil
		}
	case 303:
		next.Method = netreq.MethodGet
		next.Body = nil
	}

	crossOrigin := !netreq.OriginOf(prev.URL).Equal(netreq.OriginOf(target))
	if crossOrigin && next.Credentials != netreq.CredentialsInclude {
		next.Credentials = netreq.CredentialsOmit
		h := netreq.NewHeader()
		if next.Header != nil {
			for _, k := range next.Header.Keys() {
				if strings.EqualFold(k, "cookie") || strings.EqualFold(k, "authorization") {
					continue
				}
				for _, v := range next.Header.Values(k) {
					h.Add(k, v)
				}
			}
		}
		next.Header = h
	}
	return &next
}

func isRedirectStatus(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	default:
		return false
	}
}
