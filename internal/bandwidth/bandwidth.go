// Package bandwidth implements spec.md §4.12: token-bucket throttling
// and injected latency per simulated network condition, built on
// golang.org/x/time/rate.
package bandwidth

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"netstack/internal/nserr"
)

// Preset names the simulated network conditions from spec.md §4.12.
type Preset int

const (
	PresetCustom Preset = iota
	PresetOffline
	PresetSlow2G
	PresetTwoG
	PresetThreeG
	PresetFourG
	PresetWiFi
)

// Tuple is a (downloadBytesPerSec, uploadBytesPerSec, latency) setting.
type Tuple struct {
	DownloadBytesPerSec int
	UploadBytesPerSec   int
	Latency             time.Duration
}

// presetTuples gives representative byte rates for each named condition;
// values approximate Chrome DevTools' network-throttling presets.
var presetTuples = map[Preset]Tuple{
	PresetOffline: {0, 0, 0},
	PresetSlow2G:  {50 * 1024 / 8, 20 * 1024 / 8, 2000 * time.Millisecond},
	PresetTwoG:    {250 * 1024 / 8, 50 * 1024 / 8, 800 * time.Millisecond},
	PresetThreeG:  {1600000 / 8, 750 * 1024 / 8, 150 * time.Millisecond},
	PresetFourG:   {9 * 1024 * 1024 / 8, 9 * 1024 * 1024 / 8, 40 * time.Millisecond},
	PresetWiFi:    {30 * 1024 * 1024 / 8, 15 * 1024 * 1024 / 8, 2 * time.Millisecond},
}

// TupleFor returns the byte-rate/latency tuple for preset.
func TupleFor(preset Preset) Tuple {
	return presetTuples[preset]
}

// Direction selects the download or upload bucket.
type Direction int

const (
	Download Direction = iota
	Upload
)

// Limiter throttles per-direction byte transfer and injects a one-shot
// per-request latency, per spec.md §4.12.
type Limiter struct {
	download *rate.Limiter
	upload   *rate.Limiter
	latency  time.Duration
}

// New constructs a Limiter from t. A zero byte rate in either direction
// blocks that direction's transfer indefinitely (PresetOffline).
func New(t Tuple) *Limiter {
	return &Limiter{
		download: newTokenBucket(t.DownloadBytesPerSec),
		upload:   newTokenBucket(t.UploadBytesPerSec),
		latency:  t.Latency,
	}
}

func newTokenBucket(bytesPerSec int) *rate.Limiter {
	if bytesPerSec <= 0 {
		return rate.NewLimiter(0, 1)
	}
	// Burst equals one second's worth of bytes so short bursts don't
	// stall behind the steady-state rate.
	return rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
}

// AwaitLatency blocks for the configured per-request RTT simulation
// exactly once; callers invoke it a single time per request, before the
// first chunk is transferred.
func (l *Limiter) AwaitLatency(ctx context.Context) error {
	if l.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(l.latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nserr.Timeout(l.latency)
		}
		return nserr.New(nserr.KindAborted, "cancelled while awaiting simulated latency")
	}
}

// Wait blocks until n bytes worth of tokens are available in direction,
// or ctx is cancelled. Large transfers should call this once per chunk
// so cancellation remains responsive.
func (l *Limiter) Wait(ctx context.Context, dir Direction, n int) error {
	limiter := l.bucket(dir)
	if n <= 0 {
		return nil
	}
	if limiter.Limit() == 0 {
		// A zero rate never refills the bucket: block until ctx ends.
		<-ctx.Done()
		return ctx.Err()
	}
	// WaitN rejects n above the burst size, so a larger n is taken in
	// burst-sized pieces.
	for n > 0 {
		chunk := min(n, limiter.Burst())
		if err := limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func (l *Limiter) bucket(dir Direction) *rate.Limiter {
	if dir == Upload {
		return l.upload
	}
	return l.download
}
