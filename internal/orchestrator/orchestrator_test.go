package orchestrator

import (
	"bufio"
	"context"
	"net"
	"net/url"
	"sync"
	"testing"

	"netstack/internal/cors"
	"netstack/internal/csp"
	"netstack/internal/h1client"
	"netstack/internal/httpcache"
	"netstack/internal/netreq"
	"netstack/internal/nserr"
)

// scriptedDialer hands out one net.Pipe per dial call, serving the next
// canned response in responses on the server side. It lets a single test
// drive several pipeline hops (e.g. a redirect chain) without a real
// listener, mirroring h1client's own net.Pipe-based tests.
type scriptedDialer struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (d *scriptedDialer) dial(context.Context, h1client.Key) (net.Conn, error) {
	d.mu.Lock()
	i := d.calls
	d.calls++
	d.mu.Unlock()

	server, client := net.Pipe()
	resp := "HTTP/1.1 200 OK\r\n\r\n"
	if i < len(d.responses) {
		resp = d.responses[i]
	}
	go func() {
		reader := bufio.NewReader(server)
		for {
			line, err := reader.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		server.Write([]byte(resp))
		server.Close()
	}()
	return client, nil
}

// newTestOrchestrator builds an Orchestrator with its protocol selector
// swapped for one backed by scriptedDialer, so Fetch never opens a real
// HTTP connection. Host names are still resolved through the system DNS
// resolver.
func newTestOrchestrator(t *testing.T, cfg Config, responses ...string) (*Orchestrator, *scriptedDialer) {
	t.Helper()
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sd := &scriptedDialer{responses: responses}
	pool := h1client.New(h1client.Config{Dial: sd.dial})
	o.protocols = &protocolSelector{h1: h1client.NewClient(pool), h3Bad: make(map[string]bool)}
	return o, sd
}

func mustRequest(t *testing.T, rawURL string) *netreq.NetworkRequest {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	return &netreq.NetworkRequest{
		URL:         u,
		Method:      netreq.MethodGet,
		Mode:        netreq.ModeNavigate,
		Credentials: netreq.CredentialsInclude,
		Cache:       netreq.CacheDefault,
		Redirect:    netreq.RedirectFollow,
		Priority:    netreq.PriorityHigh,
	}
}

func TestFetch_NetworkRoundTripAndCacheStore(t *testing.T) {
	o, sd := newTestOrchestrator(t, Config{},
		"HTTP/1.1 200 OK\r\nContent-Length: 5\r\nCache-Control: max-age=60\r\nSet-Cookie: a=b\r\n\r\nhello")

	req := mustRequest(t, "http://example.com/page")
	resp, err := o.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("got status %d, want 200", resp.Status)
	}
	body, ok := resp.Body.(netreq.BufferBody)
	if !ok || string(body.Data) != "hello" {
		t.Fatalf("got body %v", resp.Body)
	}
	if sd.calls != 1 {
		t.Fatalf("got %d dial calls, want 1", sd.calls)
	}

	// The cookie from Set-Cookie must have been extracted (step 15).
	cookies := o.cookies.CookiesFor(req.URL, false, false, "GET")
	if len(cookies) != 1 || cookies[0].Name != "a" || cookies[0].Value != "b" {
		t.Fatalf("got cookies %v, want [a=b]", cookies)
	}

	// A fresh cache entry must have been stored (step 14) and served on
	// a second Fetch without dialing again.
	req2 := mustRequest(t, "http://example.com/page")
	resp2, err := o.Fetch(context.Background(), req2)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if string(resp2.Body.(netreq.BufferBody).Data) != "hello" {
		t.Fatalf("got cached body %v", resp2.Body)
	}
	if sd.calls != 1 {
		t.Fatalf("got %d dial calls after cache hit, want still 1", sd.calls)
	}
}

func TestFetch_OnlyIfCachedMissReturnsCacheError(t *testing.T) {
	o, sd := newTestOrchestrator(t, Config{})

	req := mustRequest(t, "http://example.com/missing")
	req.Cache = netreq.CacheOnlyIfCached

	_, err := o.Fetch(context.Background(), req)
	if err == nil {
		t.Fatal("expected an error for an only-if-cached miss")
	}
	if nserr.KindOf(err) != nserr.KindCache {
		t.Fatalf("got error kind %v, want KindCache", nserr.KindOf(err))
	}
	if sd.calls != 0 {
		t.Fatalf("got %d dial calls, want 0 (only-if-cached must never hit the network)", sd.calls)
	}
}

func TestFetch_RedirectFollowsAndStripsCredentialsCrossOrigin(t *testing.T) {
	o, sd := newTestOrchestrator(t, Config{MaxRedirects: 5},
		"HTTP/1.1 302 Found\r\nLocation: http://other.example/next\r\nContent-Length: 0\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok",
	)

	req := mustRequest(t, "http://example.com/start")
	req.Header = netreq.NewHeader()
	req.Header.Set("Authorization", "Bearer secret")

	resp, err := o.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("got status %d, want 200 after following redirect", resp.Status)
	}
	if !resp.Redirected {
		t.Fatal("expected Redirected to be true")
	}
	if resp.URL.Host != "other.example" {
		t.Fatalf("got final URL host %q, want other.example", resp.URL.Host)
	}
	if sd.calls != 2 {
		t.Fatalf("got %d dial calls, want 2 (original + redirect hop)", sd.calls)
	}
}

func TestFetch_TooManyRedirectsFails(t *testing.T) {
	loc := "HTTP/1.1 302 Found\r\nLocation: http://example.com/loop\r\nContent-Length: 0\r\n\r\n"
	o, _ := newTestOrchestrator(t, Config{MaxRedirects: 2}, loc, loc, loc, loc)

	req := mustRequest(t, "http://example.com/loop")
	_, err := o.Fetch(context.Background(), req)
	if err == nil {
		t.Fatal("expected an error for exceeding MaxRedirects")
	}
	if nserr.KindOf(err) != nserr.KindTooManyRedirects {
		t.Fatalf("got error kind %v, want KindTooManyRedirects", nserr.KindOf(err))
	}
}

func TestFetch_CorsResponseMissingAllowOriginFails(t *testing.T) {
	corsCfg, err := cors.NewConfig(cors.Config{AllowedOrigins: []string{"https://app.example"}})
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	o, _ := newTestOrchestrator(t, Config{CORS: corsCfg},
		"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")

	req := mustRequest(t, "http://example.com/data")
	req.Mode = netreq.ModeCors
	req.InitiatorOrigin = netreq.Origin{Scheme: "https", Host: "app.example"}

	_, err = o.Fetch(context.Background(), req)
	if err == nil {
		t.Fatal("expected a CORS error for a response with no Access-Control-Allow-Origin")
	}
	if nserr.KindOf(err) != nserr.KindCORS {
		t.Fatalf("got error kind %v, want KindCORS", nserr.KindOf(err))
	}
}

func TestFetch_CSPViolationBlocksEnforcingPolicy(t *testing.T) {
	o, sd := newTestOrchestrator(t, Config{})
	policy := csp.Parse("default-src 'self'", false)
	o.SetCSPPolicy(&policy)

	req := mustRequest(t, "http://other.example/asset.js")
	req.InitiatorOrigin = netreq.Origin{Scheme: "http", Host: "example.com"}
	req.ResourceKind = netreq.ResourceScript

	_, err := o.Fetch(context.Background(), req)
	if err == nil {
		t.Fatal("expected a CSP violation for a cross-origin script load under default-src 'self'")
	}
	if nserr.KindOf(err) != nserr.KindCSPViolation {
		t.Fatalf("got error kind %v, want KindCSPViolation", nserr.KindOf(err))
	}
	if sd.calls != 0 {
		t.Fatalf("got %d dial calls, want 0 (CSP must block before the network round-trip)", sd.calls)
	}
}

func TestFetch_ConditionalRevalidationMergesStaleEntry(t *testing.T) {
	o, sd := newTestOrchestrator(t, Config{})

	negativeMaxAge := -1
	fp := httpcache.ComputeForRequest(mustRequest(t, "http://example.com/etagged"), nil)
	o.cache.Store(fp, &httpcache.Entry{
		Fingerprint: fp,
		Status:      200,
		Header:      map[string][]string{"etag": {`"v1"`}},
		Body:        []byte("cached body"),
		Directives:  httpcache.Directives{MaxAge: &negativeMaxAge},
		Validators:  httpcache.Validators{ETag: `"v1"`},
	})

	sd.responses = []string{"HTTP/1.1 304 Not Modified\r\n\r\n"}

	resp, err := o.Fetch(context.Background(), mustRequest(t, "http://example.com/etagged"))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(resp.Body.(netreq.BufferBody).Data) != "cached body" {
		t.Fatalf("got body %v, want the merged stale entry body", resp.Body)
	}
	if sd.calls != 1 {
		t.Fatalf("got %d dial calls, want 1 (one revalidation round-trip)", sd.calls)
	}
}

func TestFetch_DataURLNeverReachesScheduler(t *testing.T) {
	o, sd := newTestOrchestrator(t, Config{})
	req := mustRequest(t, "data:text/plain,hello")

	resp, err := o.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(resp.Body.(netreq.BufferBody).Data) != "hello" {
		t.Fatalf("got body %v, want hello", resp.Body)
	}
	if sd.calls != 0 {
		t.Fatalf("got %d dial calls, want 0 for a data: URL", sd.calls)
	}
}

func TestFetch_WebSocketSchemeRejectedByFetch(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{})
	req := mustRequest(t, "ws://example.com/socket")

	_, err := o.Fetch(context.Background(), req)
	if err == nil {
		t.Fatal("expected Fetch to reject a ws: URL; use Connect instead")
	}
}

func TestFetch_RedirectErrorModeFailsOnRedirect(t *testing.T) {
	o, sd := newTestOrchestrator(t, Config{},
		"HTTP/1.1 302 Found\r\nLocation: http://example.com/next\r\nContent-Length: 0\r\n\r\n")

	req := mustRequest(t, "http://example.com/start")
	req.Redirect = netreq.RedirectError

	_, err := o.Fetch(context.Background(), req)
	if err == nil {
		t.Fatal("expected an error when RedirectError mode receives a redirect")
	}
	if sd.calls != 1 {
		t.Fatalf("got %d dial calls, want 1 (the redirect hop must not be followed)", sd.calls)
	}
}

func TestFetch_MetricsRecordOutcome(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{},
		"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")

	if _, err := o.Fetch(context.Background(), mustRequest(t, "http://example.com/ok")); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	snap := o.MetricsSnapshot()
	if snap.RequestsTotal == 0 {
		t.Fatal("expected MetricsSnapshot to reflect the completed request")
	}
}
