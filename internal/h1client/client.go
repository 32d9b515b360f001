package h1client

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"netstack/internal/netreq"
	"netstack/internal/nserr"
)

// Client executes requests over the HTTP/1.1 wire protocol against a
// pooled connection, per spec.md §4.4.
type Client struct {
	pool *Pool
}

// NewClient returns a Client backed by pool.
func NewClient(pool *Pool) *Client {
	return &Client{pool: pool}
}

// Fetch sends req over a pooled connection for key and returns the
// parsed response. On any framing error the connection is discarded
// rather than returned to the pool. If the connection that failed was a
// reused idle connection (as opposed to one just dialed) and req's method
// is idempotent, Fetch retries once against a freshly dialed connection,
// per spec.md §7: a pooled connection can be closed by the peer between
// Release and the next Acquire without the pool finding out until the
// next write.
func (c *Client) Fetch(ctx context.Context, key Key, req *netreq.NetworkRequest) (*netreq.NetworkResponse, error) {
	conn, reused, err := c.pool.Acquire(ctx, key)
	if err != nil {
		return nil, nserr.Wrap(nserr.KindConnectionFailed, "acquiring HTTP/1.1 connection", err)
	}

	resp, retryable, err := c.attempt(ctx, key, conn, req)
	if err != nil && retryable && reused && req.Method.Idempotent() {
		freshConn, dialErr := c.pool.AcquireFresh(ctx, key)
		if dialErr == nil {
			resp, _, err = c.attempt(ctx, key, freshConn, req)
		}
	}
	return resp, err
}

// attempt performs a single request/response cycle over conn. retryable
// reports whether a failure was a connection-level write/read error,
// rather than a request-construction or response-decoding error, and is
// therefore eligible for Fetch's idle-closed-connection retry.
func (c *Client) attempt(ctx context.Context, key Key, conn net.Conn, req *netreq.NetworkRequest) (resp *netreq.NetworkResponse, retryable bool, err error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	httpReq, err := toHTTPRequest(ctx, req)
	if err != nil {
		c.pool.Discard(key, conn)
		return nil, false, err
	}

	if err := httpReq.Write(conn); err != nil {
		c.pool.Discard(key, conn)
		return nil, true, nserr.Wrap(nserr.KindProtocol, "writing HTTP/1.1 request", err)
	}

	reader := bufio.NewReader(conn)
	httpResp, err := http.ReadResponse(reader, httpReq)
	if err != nil {
		c.pool.Discard(key, conn)
		return nil, true, nserr.Wrap(nserr.KindProtocol, "parsing HTTP/1.1 response", err)
	}
	defer httpResp.Body.Close()

	parsed, err := fromHTTPResponse(req.URL, httpResp)
	if err != nil {
		c.pool.Discard(key, conn)
		return nil, false, err
	}

	healthy := httpResp.Close == false && httpResp.StatusCode < 500
	conn.SetDeadline(time.Time{})
	c.pool.Release(key, conn, healthy)
	return parsed, false, nil
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
		return nil, nserr.Wrap(nserr.KindInvalidURL, "building HTTP/1.1 request", err)
	}
	if body != nil {
		httpReq.ContentLength = contentLength
	}
	if req.Header != nil {
		for _, k := range req.Header.Keys() {
			for _, v := range req.Header.Values(k) {
				httpReq.Header.Add(k, v)
			}
		}
	}
	httpReq.Close = !req.Keepalive
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
		return nil, nserr.Wrap(nserr.KindIO, "reading HTTP/1.1 response body", err)
	}
	return &netreq.NetworkResponse{
		URL:          finalURL,
		Status:       httpResp.StatusCode,
		StatusPhrase: http.StatusText(httpResp.StatusCode),
		Header:       header,
		Body:         netreq.BufferBody{Data: data},
		Protocol:     netreq.ProtocolHTTP1,
	}, nil
}
