package netreq

import "net/url"

// NetworkResponse is the uniform response value returned by the
// orchestrator, per spec.md §3.
type NetworkResponse struct {
	URL          *url.URL // final URL, post-redirect
	Status       int
	StatusPhrase string
	Header       *Header
	Body         Body

	Redirected bool
	Type       ResponseType
	Protocol   Protocol

	Timing Timing
}

// Opaque returns an opaque NetworkResponse for NoCors-mode responses:
// headers and body are elided from the caller's view per the Fetch spec,
// though Body is left for the orchestrator's own internal bookkeeping
// (callers should use the Type tag to decide whether to expose it).
func Opaque(finalURL *url.URL) *NetworkResponse {
	return &NetworkResponse{
		URL:    finalURL,
		Status: 0,
		Header: NewHeader(),
		Body:   EmptyBody{},
		Type:   ResponseOpaque,
	}
}

// ErrorResponse returns an Error-type response with no readable headers
// or body, for CORS/mixed-content/CSP failures (spec.md §7, §8).
func ErrorResponse() *NetworkResponse {
	return &NetworkResponse{
		Status: 0,
		Header: NewHeader(),
		Body:   EmptyBody{},
		Type:   ResponseError,
	}
}
