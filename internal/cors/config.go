// Package cors implements the client-side half of spec.md §4.1 steps 3
// and 12, and §4.10: CORS request-phase preflight synthesis and
// response-phase validation, grounded on jub0bs/cors's validate-at-
// construction Config pattern (fields, "prohibited" combinations
// rejected by NewConfig rather than discovered at request time).
package cors

import (
	"strings"

	"netstack/internal/nserr"
)

// Config configures the CORS checks the orchestrator performs for a
// single initiator context. Unlike jub0bs/cors's server-side Config,
// this describes what the *client* expects back from the server.
type Config struct {
	// AllowCredentials mirrors the request's credentials mode; when true,
	// a wildcard AllowedOrigins is prohibited (spec.md §4.1 step 3, §8
	// scenario 3).
	AllowCredentials bool

	// AllowedOrigins restricts which Access-Control-Allow-Origin values
	// the client will accept. A nil slice means "accept the single
	// matching initiator origin or, when AllowCredentials is false, a
	// literal wildcard '*'".
	AllowedOrigins []string

	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	MaxAge         int // seconds; 0 disables preflight caching
}

// Validate enforces the construction-time invariants from spec.md §4.1
// step 3 and §4.10: wildcard origins are disallowed with credentials.
func (c Config) Validate() error {
	if c.AllowCredentials {
		for _, o := range c.AllowedOrigins {
			if o == "*" {
				return nserr.New(nserr.KindInvalidConfig, "wildcard origin is prohibited when credentials are included")
			}
		}
		if c.AllowedOrigins == nil {
			return nserr.New(nserr.KindInvalidConfig, "AllowedOrigins must be explicit when AllowCredentials is true")
		}
	}
	return nil
}

// NewConfig validates cfg and returns it, mirroring jub0bs/cors's
// try-constructor pattern (construction fails loudly rather than
// deferring validation to first use).
func NewConfig(cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// simpleMethods and simpleContentTypes implement the "simple request"
// classification from spec.md's GLOSSARY.
var simpleMethods = map[string]bool{"GET": true, "HEAD": true, "POST": true}

var simpleContentTypes = map[string]bool{
	"application/x-www-form-urlencoded": true,
	"multipart/form-data":               true,
	"text/plain":                        true,
}

// simpleRequestHeaders are headers the Fetch spec calls "CORS-safelisted"
// and therefore exempt from preflight.
var simpleRequestHeaders = map[string]bool{
	"accept":           true,
	"accept-language":  true,
	"content-language": true,
	"content-type":     true,
}

// IsSimple reports whether method/contentType/extraHeaders qualify as a
// CORS-simple request that does not require a preflight, per the
// GLOSSARY definition in spec.md.
func IsSimple(method, contentType string, headerNames []string) bool {
	if !simpleMethods[strings.ToUpper(method)] {
		return false
	}
	for _, h := range headerNames {
		if !simpleRequestHeaders[strings.ToLower(h)] {
			return false
		}
	}
	if contentType == "" {
		return true
	}
	base := contentType
	if idx := strings.IndexByte(base, ';'); idx >= 0 {
		base = base[:idx]
	}
	return simpleContentTypes[strings.ToLower(strings.TrimSpace(base))]
}
