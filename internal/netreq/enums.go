package netreq

// Method is an HTTP request method.
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodConnect Method = "CONNECT"
	MethodOptions Method = "OPTIONS"
	MethodTrace   Method = "TRACE"
	MethodPatch   Method = "PATCH"
)

// Idempotent reports whether repeating the method is safe for 0-RTT and
// for the single automatic pool retry described in spec.md §7.
func (m Method) Idempotent() bool {
	switch m {
	case MethodGet, MethodHead, MethodPut, MethodDelete, MethodOptions, MethodTrace:
		return true
	default:
		return false
	}
}

// Mode is the request mode (Fetch spec "mode").
type Mode int

const (
	ModeNavigate Mode = iota
	ModeSameOrigin
	ModeNoCors
	ModeCors
)

// Credentials controls whether cookies/auth are attached or exposed.
type Credentials int

const (
	CredentialsOmit Credentials = iota
	CredentialsSameOrigin
	CredentialsInclude
)

// CacheMode selects the HTTP cache's read/write behavior for a request.
type CacheMode int

const (
	CacheDefault CacheMode = iota
	CacheNoStore
	CacheReload
	CacheNoCache
	CacheForceCache
	CacheOnlyIfCached
)

// RedirectMode controls 3xx handling.
type RedirectMode int

const (
	RedirectFollow RedirectMode = iota
	RedirectError
	RedirectManual
)

// ReferrerPolicy mirrors the Fetch spec's referrer policy enum.
type ReferrerPolicy int

const (
	ReferrerPolicyDefault ReferrerPolicy = iota
	ReferrerPolicyNoReferrer
	ReferrerPolicyNoReferrerWhenDowngrade
	ReferrerPolicyOrigin
	ReferrerPolicyOriginWhenCrossOrigin
	ReferrerPolicySameOrigin
	ReferrerPolicyStrictOrigin
	ReferrerPolicyStrictOriginWhenCrossOrigin
	ReferrerPolicyUnsafeURL
)

// Priority is the scheduler priority class.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

// Protocol identifies the negotiated wire protocol.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolHTTP1
	ProtocolHTTP2
	ProtocolHTTP3
	ProtocolWebSocket
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP1:
		return "http/1.1"
	case ProtocolHTTP2:
		return "h2"
	case ProtocolHTTP3:
		return "h3"
	case ProtocolWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// ResponseType mirrors the Fetch spec's response type tag.
type ResponseType int

const (
	ResponseBasic ResponseType = iota
	ResponseCors
	ResponseError
	ResponseOpaque
	ResponseOpaqueRedirect
)

// ResourceKind classifies a subresource for mixed-content and CSP checks.
type ResourceKind int

const (
	ResourceOther ResourceKind = iota
	ResourceScript
	ResourceStylesheet
	ResourceXHR
	ResourceFetch
	ResourceWorker
	ResourceIframe
	ResourceImage
	ResourceAudio
	ResourceVideo
	ResourceFont
	ResourceConnect
)

// Active reports whether a resource kind is "active" mixed content per
// spec.md §4.1 step 2 (scripts/stylesheets/XHR/fetch/Worker/iframes).
func (r ResourceKind) Active() bool {
	switch r {
	case ResourceScript, ResourceStylesheet, ResourceXHR, ResourceFetch, ResourceWorker, ResourceIframe:
		return true
	default:
		return false
	}
}
