package bandwidth

import (
	"context"
	"testing"
	"time"

	"netstack/internal/nserr"
)

func TestLimiter_AwaitLatencyBlocksOnce(t *testing.T) {
	l := New(Tuple{DownloadBytesPerSec: 1 << 20, UploadBytesPerSec: 1 << 20, Latency: 30 * time.Millisecond})
	start := time.Now()
	if err := l.AwaitLatency(context.Background()); err != nil {
		t.Fatalf("AwaitLatency: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("AwaitLatency returned too early: %s", elapsed)
	}
}

func TestLimiter_AwaitLatencyRespectsContext(t *testing.T) {
	l := New(Tuple{Latency: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.AwaitLatency(ctx)
	if err == nil {
		t.Fatal("expected context deadline error")
	}
	if got := nserr.KindOf(err); got != nserr.KindTimeout {
		t.Fatalf("KindOf(err) = %v, want KindTimeout", got)
	}
}

func TestLimiter_AwaitLatencyCancellationIsAbortedNotTimeout(t *testing.T) {
	l := New(Tuple{Latency: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := l.AwaitLatency(ctx)
	if err == nil {
		t.Fatal("expected an error when ctx is cancelled")
	}
	if got := nserr.KindOf(err); got != nserr.KindAborted {
		t.Fatalf("KindOf(err) = %v, want KindAborted", got)
	}
}

func TestLimiter_WaitThrottlesToConfiguredRate(t *testing.T) {
	l := New(Tuple{DownloadBytesPerSec: 1000})
	start := time.Now()
	// Burst equals the rate, so the first chunk of 1000 bytes is free;
	// the second chunk of 1000 bytes must wait roughly one second.
	if err := l.Wait(context.Background(), Download, 1000); err != nil {
		t.Fatalf("Wait 1: %v", err)
	}
	if err := l.Wait(context.Background(), Download, 1000); err != nil {
		t.Fatalf("Wait 2: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 800*time.Millisecond {
		t.Errorf("expected throttling to delay the second chunk, elapsed=%s", elapsed)
	}
}

func TestTupleFor_OfflineBlocksIndefinitely(t *testing.T) {
	tuple := TupleFor(PresetOffline)
	if tuple.DownloadBytesPerSec != 0 {
		t.Fatalf("expected 0 bytes/sec for offline preset")
	}
	l := New(tuple)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, Download, 1); err == nil {
		t.Error("expected offline preset to block until context deadline")
	}
}
