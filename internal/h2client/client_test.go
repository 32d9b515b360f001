package h2client

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"golang.org/x/net/http2"

	"netstack/internal/netreq"
)

// TestClient_Fetch_RoundTripsOverH2 exercises the real http2.Transport
// against an httptest.Server configured for h2, confirming the request/
// response translation layer in this package, not http2 itself.
func TestClient_Fetch_RoundTripsOverH2(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Proto", r.Proto)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hi"))
	}))
	if err := http2.ConfigureServer(srv.Config, &http2.Server{}); err != nil {
		t.Fatalf("ConfigureServer: %v", err)
	}
	srv.TLS = srv.Config.TLSConfig
	srv.StartTLS()
	defer srv.Close()

	transport := &http2.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	c := &Client{transport: transport}

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	req := &netreq.NetworkRequest{URL: u, Method: netreq.MethodGet, Header: netreq.NewHeader()}

	resp, err := c.Fetch(req.Context(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("got status %d, want 200", resp.Status)
	}
	if resp.Protocol != netreq.ProtocolHTTP2 {
		t.Errorf("got protocol %v, want HTTP2", resp.Protocol)
	}
	body, ok := resp.Body.(netreq.BufferBody)
	if !ok || string(body.Data) != "hi" {
		t.Errorf("got body %v", resp.Body)
	}
}
