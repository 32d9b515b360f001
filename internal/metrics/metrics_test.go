package metrics

import (
	"testing"
	"time"

	"netstack/internal/netreq"
)

func TestCollector_RecordRequestAndSnapshot(t *testing.T) {
	c := New()
	c.RecordRequest(netreq.ProtocolHTTP2, "success")
	c.RecordRequest(netreq.ProtocolHTTP1, "TimeoutError")
	c.RecordBytes("download", 1024)
	c.RecordBytes("upload", 256)
	c.RecordCacheHit()
	c.RecordCacheHit()
	c.RecordCacheMiss()
	c.RecordRedirect()

	snap := c.Snapshot(time.Now())
	if snap.RequestsTotal != 2 {
		t.Errorf("got RequestsTotal %v, want 2", snap.RequestsTotal)
	}
	if snap.BytesDownloaded != 1024 {
		t.Errorf("got BytesDownloaded %v, want 1024", snap.BytesDownloaded)
	}
	if snap.BytesUploaded != 256 {
		t.Errorf("got BytesUploaded %v, want 256", snap.BytesUploaded)
	}
	if snap.RedirectsTotal != 1 {
		t.Errorf("got RedirectsTotal %v, want 1", snap.RedirectsTotal)
	}
	wantRatio := 2.0 / 3.0
	if got := snap.CacheHitRatio(); got != wantRatio {
		t.Errorf("got CacheHitRatio %v, want %v", got, wantRatio)
	}
}

func TestSnapshot_CacheHitRatioNoLookups(t *testing.T) {
	s := Snapshot{}
	if s.CacheHitRatio() != 0 {
		t.Errorf("expected 0 ratio with no lookups, got %v", s.CacheHitRatio())
	}
}

func TestCollector_RecordTiming(t *testing.T) {
	c := New()
	now := time.Now()
	timing := netreq.Timing{
		DNSStart:     now,
		DNSEnd:       now.Add(10 * time.Millisecond),
		ConnectStart: now.Add(10 * time.Millisecond),
		ConnectEnd:   now.Add(30 * time.Millisecond),
		RequestStart: now.Add(30 * time.Millisecond),
		ResponseStart: now.Add(60 * time.Millisecond),
	}
	// Should not panic and should record into the histograms.
	c.RecordTiming(timing)
}
