package csp

import (
	"net/url"
	"testing"

	"netstack/internal/netreq"
)

func origin(t *testing.T, raw string) netreq.Origin {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	return netreq.OriginOf(u)
}

func TestParse_SplitsDirectivesAndSources(t *testing.T) {
	p := Parse("default-src 'self'; script-src 'self' https://cdn.example.com", false)
	list, _, ok := p.sourceListFor(netreq.ResourceScript)
	if !ok {
		t.Fatal("expected script-src to resolve")
	}
	if len(list) != 2 || list[0] != "'self'" || list[1] != "https://cdn.example.com" {
		t.Errorf("got %v", list)
	}
}

func TestCheck_SelfMatchesDocumentOrigin(t *testing.T) {
	p := Parse("default-src 'self'", false)
	doc := origin(t, "https://app.example.com")
	ctx := CheckContext{DocumentOrigin: doc, HasDocumentOrigin: true}

	if err := p.Check(origin(t, "https://app.example.com"), netreq.ResourceImage, ctx); err != nil {
		t.Errorf("same-origin image should pass: %v", err)
	}
	if err := p.Check(origin(t, "https://evil.example.net"), netreq.ResourceImage, ctx); err == nil {
		t.Error("cross-origin image should violate default-src 'self'")
	}
}

func TestCheck_NoDocumentOriginRejectsSelf(t *testing.T) {
	p := Parse("default-src 'self'", false)
	ctx := CheckContext{HasDocumentOrigin: false}
	if err := p.Check(origin(t, "https://app.example.com"), netreq.ResourceImage, ctx); err == nil {
		t.Error("'self' must reject when there is no document origin")
	}
}

func TestCheck_WildcardSubdomain(t *testing.T) {
	p := Parse("img-src https://*.cdn.example.com", false)
	ctx := CheckContext{}
	if err := p.Check(origin(t, "https://assets.cdn.example.com"), netreq.ResourceImage, ctx); err != nil {
		t.Errorf("subdomain should match wildcard source: %v", err)
	}
	if err := p.Check(origin(t, "https://cdn.example.com"), netreq.ResourceImage, ctx); err != nil {
		t.Errorf("bare wildcard base domain should match: %v", err)
	}
	if err := p.Check(origin(t, "https://other.com"), netreq.ResourceImage, ctx); err == nil {
		t.Error("unrelated host should not match wildcard source")
	}
}

func TestCheck_NonceMatch(t *testing.T) {
	p := Parse("script-src 'nonce-abc123'", false)
	if err := p.Check(origin(t, "https://inline"), netreq.ResourceScript, CheckContext{Nonce: "abc123"}); err != nil {
		t.Errorf("matching nonce should pass: %v", err)
	}
	if err := p.Check(origin(t, "https://inline"), netreq.ResourceScript, CheckContext{Nonce: "wrong"}); err == nil {
		t.Error("mismatched nonce should violate policy")
	}
}

func TestCheck_HashMatch(t *testing.T) {
	digest := HashInline([]byte("console.log(1)"), "sha256")
	p := Parse("script-src 'sha256-"+digest+"'", false)
	if err := p.Check(origin(t, "https://inline"), netreq.ResourceScript, CheckContext{InlineSHA256: digest}); err != nil {
		t.Errorf("matching hash should pass: %v", err)
	}
}

func TestCheck_NoneAlwaysRejects(t *testing.T) {
	p := Parse("object-src 'none'", false)
	if err := p.Check(origin(t, "https://anything"), netreq.ResourceOther, CheckContext{}); err == nil {
		t.Error("'none' must reject every source")
	}
}

func TestCheck_FallsBackToDefaultSrc(t *testing.T) {
	p := Parse("default-src 'self'", false)
	doc := origin(t, "https://app.example.com")
	ctx := CheckContext{DocumentOrigin: doc, HasDocumentOrigin: true}
	if err := p.Check(doc, netreq.ResourceFont, ctx); err != nil {
		t.Errorf("font-src should fall back to default-src: %v", err)
	}
}

func TestCheck_NoApplicableDirectiveAllows(t *testing.T) {
	p := Parse("script-src 'self'", false)
	if err := p.Check(origin(t, "https://anywhere"), netreq.ResourceImage, CheckContext{}); err != nil {
		t.Errorf("absent directive with no default-src should implicitly allow: %v", err)
	}
}

func TestParse_ReportOnlyFlagPreserved(t *testing.T) {
	p := Parse("default-src 'none'", true)
	if !p.ReportOnly {
		t.Error("expected ReportOnly to be true")
	}
}
