package cors

import (
	"net/url"
	"strings"
	"time"

	"netstack/internal/netreq"
	"netstack/internal/nserr"
)

// PreflightCacheKey identifies a cached preflight result, per spec.md
// §4.10: (origin, URL, method).
type PreflightCacheKey struct {
	Origin string
	URL    string
	Method string
}

// preflightCacheEntry records an affirmative preflight result and its
// expiry, derived from Access-Control-Max-Age.
type preflightCacheEntry struct {
	expiresAt time.Time
}

// PreflightCache is a small TTL cache of affirmative preflight results,
// keyed by (origin, URL, method).
type PreflightCache struct {
	entries map[PreflightCacheKey]preflightCacheEntry
	now     func() time.Time
}

// NewPreflightCache returns an empty PreflightCache.
func NewPreflightCache() *PreflightCache {
	return &PreflightCache{entries: make(map[PreflightCacheKey]preflightCacheEntry), now: time.Now}
}

func (c *PreflightCache) Get(key PreflightCacheKey) bool {
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		return false
	}
	return true
}

func (c *PreflightCache) Store(key PreflightCacheKey, maxAge time.Duration) {
	c.entries[key] = preflightCacheEntry{expiresAt: c.now().Add(maxAge)}
}

// BuildPreflight synthesizes the OPTIONS request for a non-simple
// cross-origin request, per spec.md §4.1 step 3.
func BuildPreflight(req *netreq.NetworkRequest, extraHeaders []string) *netreq.NetworkRequest {
	h := netreq.NewHeader()
	h.Set("Origin", req.InitiatorOrigin.String())
	h.Set("Access-Control-Request-Method", string(req.Method))
	if len(extraHeaders) > 0 {
		sorted := append([]string(nil), extraHeaders...)
		for i := range sorted {
			sorted[i] = strings.ToLower(sorted[i])
		}
		h.Set("Access-Control-Request-Headers", strings.Join(sorted, ", "))
	}
	pre := &netreq.NetworkRequest{
		URL:             req.URL,
		Method:          netreq.MethodOptions,
		Header:          h,
		Mode:            netreq.ModeCors,
		Credentials:     netreq.CredentialsOmit,
		Cache:           netreq.CacheNoStore,
		Redirect:        netreq.RedirectError,
		Priority:        req.Priority,
		InitiatorOrigin: req.InitiatorOrigin,
	}
	return pre
}

// ValidatePreflight checks an OPTIONS response against cfg and the
// original request, per spec.md §4.1 step 3.
func ValidatePreflight(cfg Config, req *netreq.NetworkRequest, status int, respHeader *netreq.Header) error {
	if status < 200 || status >= 300 {
		return nserr.Cors("preflight response was not successful")
	}
	if err := checkAllowOrigin(cfg, req, respHeader); err != nil {
		return err
	}
	allowMethods := splitCSV(respHeader.Get("Access-Control-Allow-Methods"))
	if !containsFold(allowMethods, string(req.Method)) && !simpleMethods[strings.ToUpper(string(req.Method))] {
		return nserr.Cors("preflight did not allow method " + string(req.Method))
	}
	if reqHeaders := req.Header; reqHeaders != nil {
		allowHeaders := splitCSV(respHeader.Get("Access-Control-Allow-Headers"))
		for _, k := range reqHeaders.Keys() {
			if simpleRequestHeaders[k] {
				continue
			}
			if !containsFold(allowHeaders, k) {
				return nserr.Cors("preflight did not allow header " + k)
			}
		}
	}
	return nil
}

// ValidateActualResponse implements spec.md §4.1 step 12: verify
// Access-Control-Allow-Origin matches (or is '*' only when credentials
// are omitted), and that Allow-Credentials is present when required.
func ValidateActualResponse(cfg Config, req *netreq.NetworkRequest, respHeader *netreq.Header) error {
	if err := checkAllowOrigin(cfg, req, respHeader); err != nil {
		return err
	}
	if req.Credentials == netreq.CredentialsInclude {
		if !strings.EqualFold(respHeader.Get("Access-Control-Allow-Credentials"), "true") {
			return nserr.Cors("missing Access-Control-Allow-Credentials for a credentialed request")
		}
	}
	return nil
}

func checkAllowOrigin(cfg Config, req *netreq.NetworkRequest, respHeader *netreq.Header) error {
	allow := respHeader.Get("Access-Control-Allow-Origin")
	if allow == "" {
		return nserr.Cors("missing Access-Control-Allow-Origin")
	}
	origin := req.InitiatorOrigin.String()
	if allow == "*" {
		if req.Credentials == netreq.CredentialsInclude {
			return nserr.Cors("wildcard Access-Control-Allow-Origin is invalid for a credentialed request")
		}
		return nil
	}
	if !strings.EqualFold(allow, origin) {
		return nserr.Cors("Access-Control-Allow-Origin " + allow + " does not match request origin " + origin)
	}
	if len(cfg.AllowedOrigins) > 0 && !containsFold(cfg.AllowedOrigins, origin) {
		return nserr.Cors("origin " + origin + " is not in the client's configured allow-list")
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func containsFold(list []string, want string) bool {
	for _, v := range list {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

// CrossOrigin reports whether target is cross-origin relative to initiator.
func CrossOrigin(initiator netreq.Origin, target *url.URL) bool {
	return !initiator.Equal(netreq.OriginOf(target))
}
