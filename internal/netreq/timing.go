package netreq

import "time"

// Timing is the resource timing record attached to every NetworkResponse,
// per spec.md §3 and the W3C Resource Timing shape it mirrors.
type Timing struct {
	StartTime time.Time

	RedirectStart time.Time
	RedirectEnd   time.Time
	RedirectCount int

	FetchStart time.Time

	DNSStart time.Time
	DNSEnd   time.Time

	ConnectStart time.Time
	ConnectEnd   time.Time

	SecureStart time.Time // TLS handshake start; zero for plaintext

	RequestStart  time.Time
	ResponseStart time.Time // first response byte (TTFB)
	ResponseEnd   time.Time

	QueueStart time.Time
	QueueEnd   time.Time

	TransferSize int64 // bytes as seen on the wire (encoded, with framing)
	EncodedSize  int64 // encoded body bytes, no framing
	DecodedSize  int64 // decoded body bytes
}

// QueueDuration is the time a request spent admitted to the scheduler's
// queue before receiving a token (spec.md §4.1 step 5 / §5).
func (t Timing) QueueDuration() time.Duration {
	if t.QueueStart.IsZero() || t.QueueEnd.IsZero() {
		return 0
	}
	return t.QueueEnd.Sub(t.QueueStart)
}

// TimeToFirstByte is ResponseStart - RequestStart.
func (t Timing) TimeToFirstByte() time.Duration {
	if t.RequestStart.IsZero() || t.ResponseStart.IsZero() {
		return 0
	}
	return t.ResponseStart.Sub(t.RequestStart)
}

// Total is ResponseEnd - StartTime, the end-to-end request duration.
func (t Timing) Total() time.Duration {
	if t.StartTime.IsZero() || t.ResponseEnd.IsZero() {
		return 0
	}
	return t.ResponseEnd.Sub(t.StartTime)
}
