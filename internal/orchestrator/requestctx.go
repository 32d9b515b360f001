package orchestrator

import (
	"time"

	"netstack/internal/cookiejar"
	"netstack/internal/httpcache"
	"netstack/internal/netreq"
)

// requestContext carries the mutable, per-request state threaded through
// the pipeline stages. The Orchestrator itself holds none of this, per
// spec.md §4.1's "holds no per-request mutable state".
type requestContext struct {
	req *netreq.NetworkRequest

	timing netreq.Timing

	// crossSite and topLevelNavigation feed the cookie SameSite rules
	// (spec.md §4.1 step 7).
	crossSite          bool
	topLevelNavigation bool

	// cacheEntry is the looked-up entry, when the cache step found one
	// (fresh or stale) to potentially revalidate.
	cacheEntry  *httpcache.Entry
	fingerprint httpcache.Fingerprint
	varyHeaders []string

	attachedCookies []cookiejar.Cookie

	redirectCount int
}

func newRequestContext(req *netreq.NetworkRequest) *requestContext {
	return &requestContext{req: req, timing: netreq.Timing{StartTime: now()}}
}

// now is a seam for deterministic tests; production code always calls
// time.Now.
var now = time.Now
