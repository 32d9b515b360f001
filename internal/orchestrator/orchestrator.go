// Package orchestrator implements spec.md §4.1: the fixed-order request
// lifecycle pipeline that owns every other component by reference and
// drives a NetworkRequest through scheme dispatch, security checks,
// scheduling, caching, cookies, proxying, DNS/TLS/protocol selection,
// redirects, and response-phase checks.
package orchestrator

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"netstack/internal/bandwidth"
	"netstack/internal/codec"
	"netstack/internal/cookiejar"
	"netstack/internal/cors"
	"netstack/internal/csp"
	"netstack/internal/dns"
	"netstack/internal/events"
	"netstack/internal/httpcache"
	"netstack/internal/metrics"
	"netstack/internal/mixedcontent"
	"netstack/internal/netreq"
	"netstack/internal/nserr"
	"netstack/internal/proxy"
	"netstack/internal/scheduler"
	"netstack/internal/tlsmgr"
	"netstack/internal/urlscheme"
	"netstack/internal/wsclient"
)

// Orchestrator owns the shared services of spec.md §4.1 by reference and
// holds no per-request mutable state; every field below is safe for
// concurrent use across many simultaneous Fetch calls.
type Orchestrator struct {
	cfg Config

	scheduler    *scheduler.Scheduler
	bandwidth    *bandwidth.Limiter
	dnsResolver  *dns.Resolver
	tls          *tlsmgr.Manager
	cookies      *cookiejar.Jar
	cache        *httpcache.Cache
	preflight    *cors.PreflightCache
	mixedContent mixedcontent.Checker
	cspPolicy    *csp.Policy
	filePolicy   *urlscheme.FilePolicy
	protocols    *protocolSelector
	ws           *wsclient.Dialer
	metrics      *metrics.Collector
	events       *events.Bus
}

// New validates cfg and constructs an Orchestrator. An invalid Config
// never reaches a running Orchestrator, mirroring jub0bs-cors's
// validate-at-construction pattern.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.resolved()

	mgr := tlsmgr.New(cfg.tlsConfig())

	var dohClient dns.Doer
	if cfg.DoHURL != "" {
		dohClient = &http.Client{
			Transport: &http2.Transport{TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12}},
			Timeout:   10 * time.Second,
		}
	}
	resolver := dns.New(cfg.dnsConfig(dohClient))

	var dialer rawDialer
	if cfg.Proxy != nil {
		dialer.proxy = proxy.New(*cfg.Proxy, nil)
		dialer.cfg = *cfg.Proxy
	}

	var filePolicy *urlscheme.FilePolicy
	if len(cfg.FileRoots) > 0 {
		fp, err := urlscheme.NewFilePolicy(cfg.FileRoots)
		if err != nil {
			return nil, err
		}
		filePolicy = fp
	}

	o := &Orchestrator{
		cfg:         cfg,
		scheduler:   scheduler.New(cfg.MaxConcurrent),
		bandwidth:   bandwidth.New(cfg.Bandwidth),
		dnsResolver: resolver,
		tls:         mgr,
		cookies:     cookiejar.New(),
		cache:       httpcache.New(cfg.CacheMaxBytes),
		preflight:   cors.NewPreflightCache(),
		mixedContent: mixedcontent.Checker{
			UpgradeInsecureRequests: true,
			HSTSMatch: func(host string) bool {
				_, ok := mgr.HSTSLookup(host)
				return ok
			},
		},
		filePolicy: filePolicy,
		protocols:  newProtocolSelector(cfg, &dialer, mgr, cfg.RootCAs),
		ws:         wsclient.New(),
		metrics:    metrics.New(),
		events:     cfg.Events,
	}
	return o, nil
}

// SetCSPPolicy installs the enforcing (or report-only) Content-Security-
// Policy evaluated against every subresource load, per spec.md §4.1 step
// 4. A nil policy (the default) skips the check entirely.
func (o *Orchestrator) SetCSPPolicy(policy *csp.Policy) { o.cspPolicy = policy }

// MetricsSnapshot returns the current PerformanceMetrics snapshot, per
// spec.md §6.
func (o *Orchestrator) MetricsSnapshot() metrics.Snapshot { return o.metrics.Snapshot(time.Now()) }

// Registry exposes the Collector backing MetricsSnapshot, for a host
// process that wants to mount its Prometheus registry directly.
func (o *Orchestrator) Registry() *metrics.Collector { return o.metrics }

// Fetch drives req through the full pipeline of spec.md §4.1 and returns
// the final response or the first typed error encountered.
func (o *Orchestrator) Fetch(ctx context.Context, req *netreq.NetworkRequest) (*netreq.NetworkResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Step 1: scheme dispatch for the non-network schemes. These never
	// touch the scheduler, cache, cookies, or a protocol client.
	switch req.URL.Scheme {
	case "data":
		return urlscheme.DecodeData(req.URL)
	case "file":
		if o.filePolicy == nil {
			return nil, nserr.New(nserr.KindInvalidConfig, "file: URLs require at least one configured allow-list root")
		}
		return o.filePolicy.Read(req.URL)
	case "ws", "wss":
		return nil, nserr.New(nserr.KindInvalidURL, "use Connect for ws:/wss: URLs")
	case "ftp":
		return nil, nserr.New(nserr.KindInvalidURL, "ftp: is delegated to a dedicated collaborator, not this stack")
	}

	rc := newRequestContext(req)
	resp, err := o.fetchFollowingRedirects(ctx, rc)

	outcome := "success"
	if err != nil {
		outcome = nserr.KindOf(err).String()
	}
	protocol := netreq.ProtocolUnknown
	if resp != nil {
		protocol = resp.Protocol
	}
	o.metrics.RecordRequest(protocol, outcome)

	if err != nil {
		return nil, err
	}

	// Step 16 (part 2): bandwidth accounting, applied once to the final
	// response of the whole redirect chain. A zero Config.Bandwidth skips
	// throttling.
	throttled := o.cfg.Bandwidth != (bandwidth.Tuple{})
	if throttled {
		if aerr := o.bandwidth.AwaitLatency(ctx); aerr != nil {
			return nil, aerr
		}
	}
	if body, ok := resp.Body.(netreq.BufferBody); ok && len(body.Data) > 0 {
		if throttled {
			if werr := o.bandwidth.Wait(ctx, bandwidth.Download, len(body.Data)); werr != nil {
				return nil, werr
			}
		}
		o.metrics.RecordBytes("download", int64(len(body.Data)))
	}
	o.metrics.RecordTiming(resp.Timing)

	return resp, nil
}

// fetchFollowingRedirects implements spec.md §4.1 step 11 as the outer
// loop around singleHop, which handles one request/response exchange.
func (o *Orchestrator) fetchFollowingRedirects(ctx context.Context, rc *requestContext) (*netreq.NetworkResponse, error) {
	start := now()
	for {
		resp, err := o.singleHop(ctx, rc)
		if err != nil {
			return nil, err
		}

		if !isRedirectStatus(resp.Status) || rc.req.Redirect == netreq.RedirectManual {
			resp.URL = rc.req.URL
			resp.Timing = rc.timing
			resp.Timing.StartTime = start
			resp.Timing.ResponseEnd = now()
			resp.Redirected = rc.redirectCount > 0
			return resp, nil
		}

		if rc.req.Redirect == netreq.RedirectError {
			return nil, nserr.New(nserr.KindProtocol, "received a redirect with RedirectError mode")
		}
		if rc.redirectCount >= o.cfg.MaxRedirects {
			return nil, nserr.New(nserr.KindTooManyRedirects, "exceeded maximum redirect count")
		}
		location := resp.Header.Get("Location")
		if location == "" {
			resp.URL = rc.req.URL
			resp.Timing = rc.timing
			resp.Timing.StartTime = start
			resp.Timing.ResponseEnd = now()
			return resp, nil
		}

		target, err := redirectTarget(rc.req.URL, location)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(target.Scheme, "http") {
			if _, ok := o.tls.HSTSLookup(target.Hostname()); ok {
				target.Scheme = "https"
			}
		}

		redirectStart := nonZeroOr(rc.timing.RedirectStart, now())
		nextCount := rc.redirectCount + 1
		o.metrics.RecordRedirect()

		nextReq := nextRequestForRedirect(resp.Status, rc.req, target)
		rc = newRequestContext(nextReq)
		rc.timing.StartTime = start
		rc.timing.RedirectStart = redirectStart
		rc.timing.RedirectEnd = now()
		rc.timing.RedirectCount = nextCount
		rc.redirectCount = nextCount
	}
}

func nonZeroOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

// singleHop runs pipeline steps 2 through 15 for one request/response
// exchange (one redirect hop), per spec.md §4.1.
func (o *Orchestrator) singleHop(ctx context.Context, rc *requestContext) (*netreq.NetworkResponse, error) {
	req := rc.req

	// Step 2: secure-context / mixed-content check.
	if req.InitiatorOrigin != (netreq.Origin{}) {
		if _, err := o.mixedContent.Check(req.InitiatorOrigin, req.URL, req.ResourceKind); err != nil {
			return nil, err
		}
		o.mixedContent.ApplyUpgradeHeader(req.Header)
	}

	// Step 3: CORS preflight.
	if nonSimple, extra := needsPreflight(req); nonSimple {
		if err := o.runPreflight(ctx, req, extra); err != nil {
			return nil, err
		}
	}

	// Step 4: CSP check.
	if o.cspPolicy != nil && req.InitiatorOrigin != (netreq.Origin{}) {
		checkCtx := csp.CheckContext{DocumentOrigin: req.InitiatorOrigin, HasDocumentOrigin: true}
		if err := o.cspPolicy.Check(netreq.OriginOf(req.URL), req.ResourceKind, checkCtx); err != nil {
			if !o.cspPolicy.ReportOnly {
				return nil, err
			}
			o.events.Emit(events.Event{
				Kind:    events.KindSecurityWarning,
				URL:     req.URL.String(),
				Warning: events.WarningCSPReportOnly,
				Details: err.Error(),
			})
		}
	}

	resp, err := o.roundTrip(ctx, rc)
	if err != nil {
		return nil, err
	}

	// Step 12: response-phase CORS check.
	switch req.Mode {
	case netreq.ModeCors:
		if err := cors.ValidateActualResponse(o.cfg.CORS, req, resp.Header); err != nil {
			return netreq.ErrorResponse(), err
		}
		resp.Type = netreq.ResponseCors
	case netreq.ModeNoCors:
		opaque := netreq.Opaque(req.URL)
		opaque.Protocol = resp.Protocol
		resp = opaque
	}

	// Step 15: cookie extraction.
	if o.cookies != nil {
		if setCookies := resp.Header.Values("Set-Cookie"); len(setCookies) > 0 {
			o.cookies.SetFromResponse(req.URL, setCookies)
		}
	}

	return resp, nil
}

func (o *Orchestrator) runPreflight(ctx context.Context, req *netreq.NetworkRequest, extraHeaders []string) error {
	key := cors.PreflightCacheKey{Origin: req.InitiatorOrigin.String(), URL: req.URL.String(), Method: string(req.Method)}
	if o.preflight.Get(key) {
		return nil
	}

	pre := cors.BuildPreflight(req, extraHeaders)
	preRC := newRequestContext(pre)
	resp, err := o.roundTrip(ctx, preRC)
	if err != nil {
		return err
	}
	if err := cors.ValidatePreflight(o.cfg.CORS, req, resp.Status, resp.Header); err != nil {
		return err
	}

	maxAge := 5 * time.Second
	if v := resp.Header.Get("Access-Control-Max-Age"); v != "" {
		if secs, perr := parsePositiveInt(v); perr == nil {
			maxAge = time.Duration(secs) * time.Second
		}
	}
	o.preflight.Store(key, maxAge)
	return nil
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, nserr.New(nserr.KindProtocol, "invalid integer")
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// roundTrip implements spec.md §4.1 steps 5 through 11 and 13-14: scheduler
// admission, cache lookup/store, cookie attachment, DNS resolution, and
// protocol client execution. Proxy routing (step 8) happens transparently
// inside the dial functions the protocol clients were constructed with.
func (o *Orchestrator) roundTrip(ctx context.Context, rc *requestContext) (*netreq.NetworkResponse, error) {
	req := rc.req

	// Step 5: scheduler admission.
	rc.timing.QueueStart = now()
	release, err := o.scheduler.Admit(ctx, req.Priority)
	if err != nil {
		return nil, err
	}
	defer release()
	rc.timing.QueueEnd = now()

	// Step 6: cache lookup.
	fp := httpcache.ComputeForRequest(req, rc.varyHeaders)
	rc.fingerprint = fp
	if req.Cache != netreq.CacheNoStore {
		if entry, freshness, ok := o.cache.Get(fp); ok {
			switch req.Cache {
			case netreq.CacheOnlyIfCached:
				return responseFromEntry(entry), nil
			case netreq.CacheForceCache:
				return responseFromEntry(entry), nil
			case netreq.CacheDefault:
				if freshness == httpcache.FreshnessFresh {
					o.metrics.RecordCacheHit()
					return responseFromEntry(entry), nil
				}
				attachConditional(req, entry)
				rc.cacheEntry = entry
			case netreq.CacheNoCache:
				attachConditional(req, entry)
				rc.cacheEntry = entry
			}
		} else if req.Cache == netreq.CacheOnlyIfCached {
			return nil, nserr.New(nserr.KindCache, "no cached entry for only-if-cached mode")
		} else {
			o.metrics.RecordCacheMiss()
		}
	}

	// Step 7: cookie attachment.
	if o.cookies != nil && req.Credentials != netreq.CredentialsOmit {
		cookies := o.cookies.CookiesFor(req.URL, rc.crossSite, rc.topLevelNavigation, string(req.Method))
		if len(cookies) > 0 {
			if req.Header == nil {
				req.Header = netreq.NewHeader()
			}
			var b strings.Builder
			for i, c := range cookies {
				if i > 0 {
					b.WriteString("; ")
				}
				b.WriteString(c.Name)
				b.WriteByte('=')
				b.WriteString(c.Value)
			}
			req.Header.Set("Cookie", b.String())
		}
		rc.attachedCookies = cookies
	}

	// Steps 8-9: proxy (applied inside the protocol clients' dial funcs),
	// DNS resolution, and timing. DNS gets its own phase deadline (spec.md
	// §7) distinct from the outer request timeout.
	rc.timing.DNSStart = now()
	dnsCtx, dnsCancel := phaseDeadline(ctx, dnsPhaseTimeout)
	dnsStart := time.Now()
	_, dnsErr := o.dnsResolver.Resolve(dnsCtx, req.URL.Hostname())
	dnsCancel()
	if dnsErr != nil {
		return nil, phaseTimeoutErr(dnsCtx, dnsStart, dnsErr)
	}
	rc.timing.DNSEnd = now()
	rc.timing.ConnectStart = rc.timing.DNSEnd
	rc.timing.RequestStart = now()

	// Step 10: execute via the selected protocol client, with a
	// single-flight network fetch shared across concurrent callers with
	// the same cache fingerprint (spec.md §4.1 step 14, §8). The phase
	// deadline here bounds connect-through-response-read as a whole,
	// since none of the protocol clients expose a narrower time-to-
	// first-byte-only hook to bound separately.
	entry, err := o.cache.Fetch(fp, func() (*httpcache.Entry, error) {
		ttfbCtx, ttfbCancel := phaseDeadline(ctx, ttfbTimeout)
		ttfbStart := time.Now()
		resp, err := o.protocols.fetch(ttfbCtx, req)
		ttfbCancel()
		if err != nil {
			return nil, phaseTimeoutErr(ttfbCtx, ttfbStart, err)
		}

		if resp.Status == http.StatusNotModified && rc.cacheEntry != nil {
			directives := httpcache.ParseCacheControl(resp.Header.Get("Cache-Control"))
			validators := httpcache.Validators{
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			o.cache.Refresh(fp, headerMap(rc.cacheEntry.Header), directives, validators)
			return rc.cacheEntry, nil
		}

		// Step 13: content decoding, via the compression guard.
		if err := decodeBody(resp); err != nil {
			return nil, err
		}

		result := entryFromResponse(fp, resp)

		// Step 14: cache store.
		if req.Cache != netreq.CacheNoStore && httpcache.Cacheable(string(req.Method), resp.Status, result.Directives) {
			o.cache.Store(fp, result)
		}

		return result, nil
	})
	if err != nil {
		return nil, err
	}

	resp := responseFromEntry(entry)
	resp.Timing = rc.timing
	return resp, nil
}

func attachConditional(req *netreq.NetworkRequest, entry *httpcache.Entry) {
	if req.Header == nil {
		req.Header = netreq.NewHeader()
	}
	for k, v := range entry.ConditionalHeaders() {
		req.Header.Set(k, v)
	}
}

func headerMap(h *netreq.Header) map[string][]string {
	out := make(map[string][]string, h.Len())
	for _, k := range h.Keys() {
		out[k] = h.Values(k)
	}
	return out
}

func entryFromResponse(fp httpcache.Fingerprint, resp *netreq.NetworkResponse) *httpcache.Entry {
	body, _ := resp.Body.(netreq.BufferBody)
	return &httpcache.Entry{
		Fingerprint: fp,
		Status:      resp.Status,
		Header:      headerMap(resp.Header),
		Body:        body.Data,
		Directives:  httpcache.ParseCacheControl(resp.Header.Get("Cache-Control")),
		Validators: httpcache.Validators{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		},
		Size: int64(len(body.Data)),
	}
}

func responseFromEntry(entry *httpcache.Entry) *netreq.NetworkResponse {
	header := netreq.NewHeader()
	for k, vs := range entry.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	return &netreq.NetworkResponse{
		Status:       entry.Status,
		StatusPhrase: http.StatusText(entry.Status),
		Header:       header,
		Body:         netreq.BufferBody{Data: entry.Body},
		Type:         netreq.ResponseBasic,
	}
}

// decodeBody implements spec.md §4.1 step 13: transparent Content-Encoding
// decompression behind the decompression-bomb guard, replacing resp's
// body with the decoded bytes.
func decodeBody(resp *netreq.NetworkResponse) error {
	encoding := codec.ParseEncoding(resp.Header.Get("Content-Encoding"))
	if encoding == codec.EncodingIdentity {
		return nil
	}
	body, ok := resp.Body.(netreq.BufferBody)
	if !ok {
		return nil
	}
	decoder, err := codec.Decode(io.NopCloser(bytes.NewReader(body.Data)), encoding, codec.Limits{})
	if err != nil {
		return err
	}
	defer decoder.Close()
	data, err := io.ReadAll(decoder)
	if err != nil {
		return nserr.Wrap(nserr.KindProtocol, "decoding response body", err)
	}
	resp.Body = netreq.BufferBody{Data: data}
	resp.Header.Del("Content-Encoding")
	return nil
}
