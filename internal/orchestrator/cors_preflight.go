package orchestrator

import (
	"strings"

	"netstack/internal/netreq"
)

var simpleMethods = map[netreq.Method]bool{
	netreq.MethodGet:  true,
	netreq.MethodHead: true,
	netreq.MethodPost: true,
}

var simpleContentTypes = map[string]bool{
	"application/x-www-form-urlencoded": true,
	"multipart/form-data":               true,
	"text/plain":                        true,
}

// simpleRequestHeaderNames are CORS-safelisted request headers that never
// force a preflight by themselves, per the Fetch spec (spec.md §4.1 step 3).
var simpleRequestHeaderNames = map[string]bool{
	"accept":           true,
	"accept-language":  true,
	"content-language": true,
	"content-type":     true,
}

// needsPreflight reports whether req, issued in Cors mode, is non-simple
// and therefore requires an OPTIONS preflight before the actual request.
func needsPreflight(req *netreq.NetworkRequest) (bool, []string) {
	if req.Mode != netreq.ModeCors {
		return false, nil
	}
	if !simpleMethods[req.Method] {
		return true, extraHeaders(req)
	}
	if req.Header != nil {
		if ct := req.Header.Get("Content-Type"); ct != "" {
			base := strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
			if !simpleContentTypes[base] {
				return true, extraHeaders(req)
			}
		}
		for _, k := range req.Header.Keys() {
			if !simpleRequestHeaderNames[k] {
				return true, extraHeaders(req)
			}
		}
	}
	return false, nil
}

func extraHeaders(req *netreq.NetworkRequest) []string {
	if req.Header == nil {
		return nil
	}
	var out []string
	for _, k := range req.Header.Keys() {
		if !simpleRequestHeaderNames[k] {
			out = append(out, k)
		}
	}
	return out
}
