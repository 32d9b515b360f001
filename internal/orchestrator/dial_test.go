package orchestrator

import (
	"context"
	"net"
	"net/url"
	"testing"
	"time"

	"netstack/internal/netreq"
	"netstack/internal/nserr"
	"netstack/internal/tlsmgr"
)

// TestProtocolSelector_TLSHandshakeTimeoutYieldsNserrTimeout drives
// spec.md §7's per-phase deadline for the TLS handshake: a peer that
// accepts the TCP connection but never completes (or responds to) the
// handshake must surface as nserr.Timeout, not a hang or a bare
// context.DeadlineExceeded.
func TestProtocolSelector_TLSHandshakeTimeoutYieldsNserrTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Accept the TCP connection but never write anything, so the
		// client's TLS handshake blocks until its context expires.
		_ = conn
		select {}
	}()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}

	mgr := tlsmgr.New(tlsmgr.Config{})
	dialer := &rawDialer{}
	sel := newProtocolSelector(Config{}, dialer, mgr, nil)

	u, _ := url.Parse("https://127.0.0.1:" + portStr + "/")
	req := &netreq.NetworkRequest{URL: u, Method: netreq.MethodGet, Header: netreq.NewHeader()}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = sel.fetchH1(ctx, req)
	if err == nil {
		t.Fatal("expected a timeout error for a TLS handshake that never completes")
	}
	if got := nserr.KindOf(err); got != nserr.KindTimeout {
		t.Fatalf("KindOf(err) = %v, want KindTimeout (got %v: %v)", got, got, err)
	}
}
