// Package csp implements spec.md §4.1 step 4 and §4.10: Content Security
// Policy directive parsing and per-resource enforcement. The tokenizer
// is grounded on the teacher's Caddyfile lexer (internal/parser/lexer.go
// in the teacher repo) — a simple whitespace/semicolon-delimited
// directive grammar plays the same role here as Caddyfile's
// directive-plus-arguments lines.
package csp

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"strings"

	"netstack/internal/netreq"
	"netstack/internal/nserr"
)

// Directive names a CSP fetch directive supported per spec.md §4.10.
type Directive string

const (
	DirectiveDefaultSrc Directive = "default-src"
	DirectiveScriptSrc  Directive = "script-src"
	DirectiveStyleSrc   Directive = "style-src"
	DirectiveImgSrc     Directive = "img-src"
	DirectiveConnectSrc Directive = "connect-src"
	DirectiveFrameSrc   Directive = "frame-src"
	DirectiveMediaSrc   Directive = "media-src"
	DirectiveFontSrc    Directive = "font-src"
	DirectiveObjectSrc  Directive = "object-src"
	DirectiveBaseURI    Directive = "base-uri"
)

// directiveFor maps a resource kind to the fetch directive that governs
// it, falling back to default-src when no specific directive is set.
func directiveFor(kind netreq.ResourceKind) Directive {
	switch kind {
	case netreq.ResourceScript, netreq.ResourceWorker:
		return DirectiveScriptSrc
	case netreq.ResourceStylesheet:
		return DirectiveStyleSrc
	case netreq.ResourceImage:
		return DirectiveImgSrc
	case netreq.ResourceXHR, netreq.ResourceFetch, netreq.ResourceConnect:
		return DirectiveConnectSrc
	case netreq.ResourceIframe:
		return DirectiveFrameSrc
	case netreq.ResourceAudio, netreq.ResourceVideo:
		return DirectiveMediaSrc
	case netreq.ResourceFont:
		return DirectiveFontSrc
	case netreq.ResourceOther:
		return DirectiveObjectSrc
	default:
		return DirectiveDefaultSrc
	}
}

// Policy is a parsed CSP header value: directive name -> source list.
type Policy struct {
	directives map[Directive][]string
	ReportOnly bool
}

// Parse tokenizes a CSP header value into directive/source-list pairs.
// Directives are semicolon-separated; within each, the first token is
// the directive name and the rest are whitespace-separated source
// expressions, mirroring the teacher's line-is-directive-plus-args
// Caddyfile grammar.
func Parse(header string, reportOnly bool) Policy {
	p := Policy{directives: make(map[Directive][]string), ReportOnly: reportOnly}
	for _, segment := range strings.Split(header, ";") {
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			continue
		}
		name := Directive(strings.ToLower(fields[0]))
		p.directives[name] = fields[1:]
	}
	return p
}

// sourceListFor resolves the effective source list for kind, falling
// back to default-src per the CSP fallback chain.
func (p Policy) sourceListFor(kind netreq.ResourceKind) ([]string, Directive, bool) {
	d := directiveFor(kind)
	if list, ok := p.directives[d]; ok {
		return list, d, true
	}
	if list, ok := p.directives[DirectiveDefaultSrc]; ok {
		return list, DirectiveDefaultSrc, true
	}
	return nil, d, false
}

// CheckContext carries the information needed to evaluate 'self',
// nonces, and hashes against a concrete request.
type CheckContext struct {
	DocumentOrigin netreq.Origin
	// HasDocumentOrigin distinguishes "no document context" (e.g. a
	// top-level navigation) from a zero-value Origin, since 'self' must
	// reject when no origin is configured (spec.md §4.10).
	HasDocumentOrigin bool

	Nonce        string // nonce used by the subresource's tag, if any
	InlineSHA256 string // base64 SHA-256 of inline content, if applicable
	InlineSHA384 string
	InlineSHA512 string
}

// Check evaluates target against policy for a resource of kind kind. A
// violation returns a *nserr.Error with KindCSPViolation; callers decide
// whether to fail (enforcing mode) or merely emit an event (report-only)
// based on Policy.ReportOnly.
func (p Policy) Check(target netreq.Origin, kind netreq.ResourceKind, ctx CheckContext) error {
	list, directive, hasDirective := p.sourceListFor(kind)
	if !hasDirective {
		return nil // no applicable directive: implicitly allowed
	}
	for _, expr := range list {
		if matchesSource(expr, target, ctx) {
			return nil
		}
	}
	return nserr.CspViolation(string(directive))
}

func matchesSource(expr string, target netreq.Origin, ctx CheckContext) bool {
	switch {
	case expr == "'none'":
		return false
	case expr == "'self'":
		return ctx.HasDocumentOrigin && ctx.DocumentOrigin.Equal(target)
	case expr == "'unsafe-inline'" || expr == "'unsafe-eval'":
		return true
	case strings.HasPrefix(expr, "'nonce-"):
		nonce := strings.TrimSuffix(strings.TrimPrefix(expr, "'nonce-"), "'")
		return ctx.Nonce != "" && ctx.Nonce == nonce
	case strings.HasPrefix(expr, "'sha256-"):
		return matchHash(expr, "'sha256-", ctx.InlineSHA256)
	case strings.HasPrefix(expr, "'sha384-"):
		return matchHash(expr, "'sha384-", ctx.InlineSHA384)
	case strings.HasPrefix(expr, "'sha512-"):
		return matchHash(expr, "'sha512-", ctx.InlineSHA512)
	case strings.HasSuffix(expr, ":") && !strings.Contains(expr, "/"):
		// scheme-only source, e.g. "https:"
		return strings.TrimSuffix(expr, ":") == target.Scheme
	default:
		return matchesHostExpr(expr, target)
	}
}

func matchHash(expr, prefix, computed string) bool {
	want := strings.TrimSuffix(strings.TrimPrefix(expr, prefix), "'")
	return computed != "" && computed == want
}

// matchesHostExpr parses a host source expression of the form
// [scheme "://"] host [":" port], where host may carry a single
// leftmost '*' wildcard label.
func matchesHostExpr(expr string, target netreq.Origin) bool {
	scheme := ""
	rest := expr
	if idx := strings.Index(expr, "://"); idx >= 0 {
		scheme = expr[:idx]
		rest = expr[idx+3:]
	}
	host := rest
	port := ""
	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		host = rest[:idx]
		port = rest[idx+1:]
	}
	if scheme != "" && scheme != target.Scheme {
		return false
	}
	if port != "" && port != "*" && port != target.Port {
		return false
	}
	if strings.HasPrefix(host, "*.") {
		suffix := host[2:]
		return strings.HasSuffix(target.Host, "."+suffix) || target.Host == suffix
	}
	return strings.EqualFold(host, target.Host)
}

// HashInline computes the base64 digest used to compare against a
// 'sha256-'/'sha384-'/'sha512-' source expression.
func HashInline(content []byte, algorithm string) string {
	switch algorithm {
	case "sha256":
		sum := sha256.Sum256(content)
		return base64.StdEncoding.EncodeToString(sum[:])
	case "sha384":
		sum := sha512.Sum384(content)
		return base64.StdEncoding.EncodeToString(sum[:])
	case "sha512":
		sum := sha512.Sum512(content)
		return base64.StdEncoding.EncodeToString(sum[:])
	default:
		return ""
	}
}
