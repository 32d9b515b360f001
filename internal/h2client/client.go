// Package h2client implements spec.md §4.5: the HTTP/2 client. SETTINGS
// exchange, HPACK, flow control, and GOAWAY handling are delegated to
// golang.org/x/net/http2.Transport — the same dependency family the
// teacher pulls in transitively for its LSP JSON-RPC transport's HTTP
// plumbing — which already maintains a single multiplexed connection
// per origin and per-stream requests, exactly the contract spec.md
// names; reimplementing HPACK/flow-control by hand would duplicate a
// well-tested stdlib-adjacent package for no behavioral gain.
package h2client

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/net/http2"

	"netstack/internal/netreq"
	"netstack/internal/nserr"
	"netstack/internal/tlsmgr"
)

// Client executes requests over HTTP/2, one multiplexed connection per
// origin, via http2.Transport's own connection pool.
type Client struct {
	transport *http2.Transport
}

// New returns a Client that dials TLS connections through mgr (for
// chain/pin verification and ALPN offer) and reuses one connection per
// origin, per spec.md §4.5.
func New(mgr *tlsmgr.Manager) *Client {
	t := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				host = addr
			}
			var d net.Dialer
			rawConn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			tlsConn := tls.Client(rawConn, mgr.Configure(host))
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				rawConn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
	}
	return &Client{transport: t}
}

// Fetch sends req and returns the HTTP/2 response, per spec.md §4.5's
// stream-lifecycle contract (fetch(request, stream) -> response), with
// GOAWAY/stream-reset handling delegated to http2.Transport.
func (c *Client) Fetch(ctx context.Context, req *netreq.NetworkRequest) (*netreq.NetworkResponse, error) {
	httpReq, err := toHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.transport.RoundTrip(httpReq)
	if err != nil {
		if se, ok := err.(http2.StreamError); ok && se.Code != 0 {
			return nil, nserr.Wrap(nserr.KindProtocol, "HTTP/2 stream reset", err)
		}
		return nil, nserr.Wrap(nserr.KindConnectionFailed, "HTTP/2 round trip", err)
	}
	defer httpResp.Body.Close()

	return fromHTTPResponse(req.URL, httpResp)
}

func toHTTPRequest(ctx context.Context, req *netreq.NetworkRequest) (*http.Request, error) {
	var body io.ReadCloser
	var contentLength int64 = -1
	if req.Body != nil {
		switch b := req.Body.(type) {
		case netreq.BufferBody:
			body = io.NopCloser(bytes.NewReader(b.Data))
			contentLength = int64(len(b.Data))
		case netreq.TextBody:
			body = io.NopCloser(bytes.NewReader([]byte(b.Text)))
			contentLength = int64(len(b.Text))
		case netreq.StreamBody:
			body = b.Reader
			contentLength = b.ContentLength
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), req.URL.String(), body)
	if err != nil {
		return nil, nserr.Wrap(nserr.KindInvalidURL, "building HTTP/2 request", err)
	}
	httpReq.ContentLength = contentLength
	if req.Header != nil {
		for _, k := range req.Header.Keys() {
			for _, v := range req.Header.Values(k) {
				httpReq.Header.Add(k, v)
			}
		}
	}
	return httpReq, nil
}

func fromHTTPResponse(finalURL *url.URL, httpResp *http.Response) (*netreq.NetworkResponse, error) {
	header := netreq.NewHeader()
	for k, vs := range httpResp.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, nserr.Wrap(nserr.KindIO, "reading HTTP/2 response body", err)
	}
	return &netreq.NetworkResponse{
		URL:          finalURL,
		Status:       httpResp.StatusCode,
		StatusPhrase: http.StatusText(httpResp.StatusCode),
		Header:       header,
		Body:         netreq.BufferBody{Data: data},
		Protocol:     netreq.ProtocolHTTP2,
	}, nil
}
