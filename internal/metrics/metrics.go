// Package metrics implements the PerformanceMetrics collection named in
// spec.md §6, backed by prometheus/client_golang counters and
// histograms — grounded on the teacher's indirect dependency on that
// library, promoted here to a direct one since this package is its only
// consumer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"netstack/internal/netreq"
)

// Collector owns the Prometheus instrumentation for one orchestrator
// instance. All fields are safe for concurrent use, matching spec.md
// §5's "metrics are atomics" requirement.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	bytesTransferred *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	redirectsTotal  prometheus.Counter

	dnsLatency     prometheus.Histogram
	tlsLatency     prometheus.Histogram
	connectLatency prometheus.Histogram
	ttfbLatency    prometheus.Histogram
}

// New registers and returns a Collector against a private registry (not
// the global default, so multiple Orchestrator instances in a process
// or test binary never collide on metric names).
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netstack_requests_total",
			Help: "Total requests processed by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		bytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netstack_bytes_transferred_total",
			Help: "Bytes transferred by direction.",
		}, []string{"direction"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netstack_cache_hits_total",
			Help: "HTTP cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netstack_cache_misses_total",
			Help: "HTTP cache misses.",
		}),
		redirectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netstack_redirects_total",
			Help: "Redirects followed across all requests.",
		}),
		dnsLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "netstack_dns_latency_seconds",
			Help:    "DNS resolution latency.",
			Buckets: prometheus.DefBuckets,
		}),
		tlsLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "netstack_tls_handshake_latency_seconds",
			Help:    "TLS handshake latency.",
			Buckets: prometheus.DefBuckets,
		}),
		connectLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "netstack_connect_latency_seconds",
			Help:    "TCP/UDP connect latency.",
			Buckets: prometheus.DefBuckets,
		}),
		ttfbLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "netstack_ttfb_latency_seconds",
			Help:    "Time to first response byte.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		c.requestsTotal, c.bytesTransferred, c.cacheHits, c.cacheMisses,
		c.redirectsTotal, c.dnsLatency, c.tlsLatency, c.connectLatency, c.ttfbLatency,
	)
	return c
}

// Registry exposes the underlying *prometheus.Registry for a host to
// mount on its own /metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordRequest increments the completed-request counter for protocol
// and outcome ("success" or a nserr.Kind string).
func (c *Collector) RecordRequest(protocol netreq.Protocol, outcome string) {
	c.requestsTotal.WithLabelValues(protocol.String(), outcome).Inc()
}

// RecordBytes accounts transferred bytes by direction ("download" or
// "upload"), feeding the same accounting spec.md §4.1 step 16 requires.
func (c *Collector) RecordBytes(direction string, n int64) {
	if n <= 0 {
		return
	}
	c.bytesTransferred.WithLabelValues(direction).Add(float64(n))
}

func (c *Collector) RecordCacheHit()  { c.cacheHits.Inc() }
func (c *Collector) RecordCacheMiss() { c.cacheMisses.Inc() }
func (c *Collector) RecordRedirect()  { c.redirectsTotal.Inc() }

// RecordTiming feeds a completed request's Timing into the latency
// histograms, per spec.md §3's resource timing fields.
func (c *Collector) RecordTiming(t netreq.Timing) {
	if !t.DNSStart.IsZero() && !t.DNSEnd.IsZero() {
		c.dnsLatency.Observe(t.DNSEnd.Sub(t.DNSStart).Seconds())
	}
	if !t.SecureStart.IsZero() && !t.ConnectEnd.IsZero() && t.ConnectEnd.After(t.SecureStart) {
		c.tlsLatency.Observe(t.ConnectEnd.Sub(t.SecureStart).Seconds())
	}
	if !t.ConnectStart.IsZero() && !t.ConnectEnd.IsZero() {
		c.connectLatency.Observe(t.ConnectEnd.Sub(t.ConnectStart).Seconds())
	}
	if ttfb := t.TimeToFirstByte(); ttfb > 0 {
		c.ttfbLatency.Observe(ttfb.Seconds())
	}
}

// Snapshot is a point-in-time read of the counters, matching the
// PerformanceMetrics event payload of spec.md §6.
type Snapshot struct {
	TakenAt         time.Time
	RequestsTotal   float64
	BytesDownloaded float64
	BytesUploaded   float64
	CacheHits       float64
	CacheMisses     float64
	RedirectsTotal  float64
}

// CacheHitRatio reports hits / (hits + misses), or 0 if there have been
// no cache lookups yet.
func (s Snapshot) CacheHitRatio() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return s.CacheHits / total
}

// Snapshot gathers the current counter values. Errors reading an
// individual metric are treated as zero rather than failing the whole
// snapshot, since metrics must never block a request.
func (c *Collector) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		TakenAt:         now,
		RequestsTotal:   sumCounterVec(c.requestsTotal),
		BytesDownloaded: counterValue(c.bytesTransferred.WithLabelValues("download")),
		BytesUploaded:   counterValue(c.bytesTransferred.WithLabelValues("upload")),
		CacheHits:       counterValue(c.cacheHits),
		CacheMisses:     counterValue(c.cacheMisses),
		RedirectsTotal:  counterValue(c.redirectsTotal),
	}
}

func counterValue(c prometheus.Counter) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}

func sumCounterVec(v *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		v.Collect(ch)
		close(ch)
	}()
	var total float64
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			continue
		}
		total += pb.GetCounter().GetValue()
	}
	return total
}
