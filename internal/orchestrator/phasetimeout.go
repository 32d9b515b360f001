package orchestrator

import (
	"context"
	"time"

	"netstack/internal/nserr"
)

// phaseDeadline derives a sub-context bounded by timeout for a single
// pipeline phase (DNS, connect, TLS handshake, TTFB), per spec.md §7: each
// phase has its own deadline independent of the others, and the outer
// context's deadline (the caller's total timeout) still applies since
// context.WithTimeout never extends an already-shorter deadline.
func phaseDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

// phaseTimeoutErr converts err into nserr.Timeout(elapsed) when phaseCtx
// expired, so a phase deadline miss is reported as a typed Timeout error
// rather than a bare context.DeadlineExceeded leaking out of the pipeline.
func phaseTimeoutErr(phaseCtx context.Context, start time.Time, err error) error {
	if err != nil && phaseCtx.Err() == context.DeadlineExceeded {
		return nserr.Timeout(time.Since(start))
	}
	return err
}
