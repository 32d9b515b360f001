package tlsmgr

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"netstack/internal/nserr"
)

// selfSignedCert returns a minimal self-signed leaf certificate valid for
// host, for exercising Verify without a real CA.
func selfSignedCert(t *testing.T, host string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	return cert
}

func TestMatchHostname(t *testing.T) {
	cases := []struct {
		pattern, host string
		want          bool
	}{
		{"a.test", "a.test", true},
		{"*.a.test", "sub.a.test", true},
		{"*.a.test", "a.test", false},
		{"*.a.test", "deep.sub.a.test", false},
		{"a.test", "b.test", false},
		{"*.*.a.test", "x.y.a.test", false}, // only leftmost wildcard label supported
	}
	for _, c := range cases {
		if got := matchHostname(c.pattern, c.host); got != c.want {
			t.Errorf("matchHostname(%q, %q) = %v, want %v", c.pattern, c.host, got, c.want)
		}
	}
}

func TestHSTSStore_ExactAndSubdomainMatch(t *testing.T) {
	s := newHSTSStore(nil)
	s.Record("a.test", 0, false) // no-op: maxAge<=0
	if _, ok := s.Lookup("a.test"); ok {
		t.Fatal("expected no entry for maxAge<=0")
	}

	s.Record("a.test", time.Hour, true)
	if _, ok := s.Lookup("a.test"); !ok {
		t.Fatal("expected exact match")
	}
	if _, ok := s.Lookup("sub.a.test"); !ok {
		t.Fatal("expected subdomain match when IncludeSubdomains set")
	}
	if _, ok := s.Lookup("notarelateddomain.test"); ok {
		t.Fatal("unexpected match for unrelated domain")
	}
}

func TestPinSet_AddRemoveIsPinned(t *testing.T) {
	p := newPinSet()
	if p.IsPinned("a.test") {
		t.Fatal("expected not pinned initially")
	}
	digest := PinDigest{Algorithm: "sha256", Digest: "abc"}
	p.AddPin("a.test", digest)
	if !p.IsPinned("a.test") {
		t.Fatal("expected pinned after AddPin")
	}
	p.RemovePin("a.test", digest)
	if p.IsPinned("a.test") {
		t.Fatal("expected not pinned after RemovePin")
	}
}

// TestManager_VerifyPinMismatchSurvivesReWrapping drives scenario 6 from
// spec.md end to end: a pin mismatch must still surface as KindCertificate
// after passing through the same re-wrapping a real dial does (tlsmgr ->
// dial.go's nserr.Tls -> the connection pool's nserr.Wrap(KindConnectionFailed)),
// not get relabeled along the way.
func TestManager_VerifyPinMismatchSurvivesReWrapping(t *testing.T) {
	m := New(Config{})
	leaf := selfSignedCert(t, "a.test")
	m.AddPin("a.test", PinDigest{Algorithm: "sha256", Digest: "does-not-match-anything"})

	verifyErr := m.Verify([]*x509.Certificate{leaf}, "a.test")
	if nserr.KindOf(verifyErr) != nserr.KindCertificate {
		t.Fatalf("Verify KindOf = %v, want KindCertificate", nserr.KindOf(verifyErr))
	}

	dialErr := nserr.Tls(verifyErr)
	acquireErr := nserr.Wrap(nserr.KindConnectionFailed, "acquiring HTTP/1.1 connection", dialErr)

	if got := nserr.KindOf(acquireErr); got != nserr.KindCertificate {
		t.Fatalf("after dial+pool re-wrapping, KindOf = %v, want KindCertificate", got)
	}
}
