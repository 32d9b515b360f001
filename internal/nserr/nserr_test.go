package nserr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrap_PreservesInnerKindAcrossLayers(t *testing.T) {
	pinMismatch := Certificate(errors.New("no chain certificate matched a registered pin"))
	dialErr := Tls(pinMismatch) // one dial layer re-wraps
	acquireErr := Wrap(KindConnectionFailed, "acquiring connection", dialErr) // pool layer re-wraps again

	if got := KindOf(acquireErr); got != KindCertificate {
		t.Fatalf("KindOf(acquireErr) = %v, want KindCertificate", got)
	}
}

func TestWrap_PreservesInnerKindThroughForeignWrapper(t *testing.T) {
	pinMismatch := Certificate(errors.New("pin mismatch"))
	// Simulate a non-nserr error type in the chain (e.g. crypto/tls's own
	// CertificateVerificationError), which still satisfies errors.As via
	// Unwrap.
	foreign := fmt.Errorf("tls: failed to verify certificate: %w", pinMismatch)
	wrapped := Wrap(KindConnectionFailed, "acquiring HTTP/1.1 connection", foreign)

	if got := KindOf(wrapped); got != KindCertificate {
		t.Fatalf("KindOf(wrapped) = %v, want KindCertificate", got)
	}
}

func TestWrap_UsesGivenKindWhenCauseIsUntyped(t *testing.T) {
	err := Wrap(KindIO, "reading body", errors.New("short read"))
	if got := KindOf(err); got != KindIO {
		t.Fatalf("KindOf(err) = %v, want KindIO", got)
	}
}

func TestWrap_PreservesTimeoutDuration(t *testing.T) {
	inner := Timeout(0)
	inner.Duration = 5
	wrapped := Wrap(KindDNS, "dns phase", inner)

	var e *Error
	if !errors.As(wrapped, &e) {
		t.Fatal("expected wrapped to be a *Error")
	}
	if e.Kind != KindTimeout {
		t.Fatalf("Kind = %v, want KindTimeout", e.Kind)
	}
	if e.Duration != 5 {
		t.Fatalf("Duration = %v, want preserved duration", e.Duration)
	}
}

func TestKindOf_NonNserrErrorIsKindOther(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindOther {
		t.Fatalf("KindOf(plain) = %v, want KindOther", got)
	}
}
