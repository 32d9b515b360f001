package netreq

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"netstack/internal/nserr"
)

// Origin is the (scheme, host, port) triple used throughout the CORS,
// CSP, and mixed-content checks.
type Origin struct {
	Scheme string
	Host   string
	Port   string // "" means the scheme's default port
}

// OriginOf derives the Origin of u, normalizing the port to "" when it
// equals the scheme's default (http:80, https:443, ws:80, wss:443).
func OriginOf(u *url.URL) Origin {
	o := Origin{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Hostname()), Port: u.Port()}
	switch {
	case o.Scheme == "http" && o.Port == "80":
		o.Port = ""
	case o.Scheme == "https" && o.Port == "443":
		o.Port = ""
	case o.Scheme == "ws" && o.Port == "80":
		o.Port = ""
	case o.Scheme == "wss" && o.Port == "443":
		o.Port = ""
	}
	return o
}

func (o Origin) String() string {
	if o.Port == "" {
		return fmt.Sprintf("%s://%s", o.Scheme, o.Host)
	}
	return fmt.Sprintf("%s://%s:%s", o.Scheme, o.Host, o.Port)
}

// Equal is strict triple equality; per SPEC_FULL.md §8 decision 2, no
// additional default-port normalization is applied beyond OriginOf's.
func (o Origin) Equal(other Origin) bool {
	return o.Scheme == other.Scheme && o.Host == other.Host && o.Port == other.Port
}

// NetworkRequest is the uniform request value routed through the
// orchestrator pipeline.
type NetworkRequest struct {
	URL    *url.URL
	Method Method
	Header *Header
	Body   Body

	Mode        Mode
	Credentials Credentials
	Cache       CacheMode
	Redirect    RedirectMode

	Referrer       string
	ReferrerPolicy ReferrerPolicy

	Integrity string // Subresource Integrity string, e.g. "sha256-..."

	Keepalive bool
	Priority  Priority

	// WindowScope identifies the browsing-context scope that issued the
	// request, opaque to the stack itself (used by callers for grouping).
	WindowScope string

	// InitiatorOrigin is the document origin issuing the request; used
	// for CORS/CSP/mixed-content classification. Zero value means no
	// initiator context (e.g. a top-level navigation).
	InitiatorOrigin Origin
	ResourceKind    ResourceKind

	ctx context.Context
}

// Context returns the request's cancellation context, defaulting to
// context.Background() if none was attached via WithContext.
func (r *NetworkRequest) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r carrying ctx.
func (r *NetworkRequest) WithContext(ctx context.Context) *NetworkRequest {
	r2 := *r
	r2.ctx = ctx
	return &r2
}

// Validate enforces the NetworkRequest invariants from spec.md §3.
func (r *NetworkRequest) Validate() error {
	if r.URL == nil || r.URL.String() == "" {
		return invalidURL("missing URL")
	}
	switch r.URL.Scheme {
	case "http", "https", "ws", "wss":
		if r.URL.Hostname() == "" {
			return invalidURL("network scheme requires a non-empty host")
		}
	}
	if r.Mode == ModeSameOrigin {
		if !OriginOf(r.URL).Equal(r.InitiatorOrigin) {
			return invalidURL("SameOrigin mode used for a cross-origin request")
		}
	}
	if r.Header != nil && r.Header.Get("Origin") == "*" && r.Credentials == CredentialsInclude {
		return invalidURL("wildcard Origin header with credentials included")
	}
	return nil
}

func invalidURL(msg string) error {
	return nserr.New(nserr.KindInvalidURL, msg)
}
