// Package stats defines the metrics surface the concurrency harness and
// request processor report against, and a default Prometheus-backed
// implementation, grounded on the teacher's internal/prometheus server
// (spec.md's Non-goals scope out a metrics backend, but the ambient
// stack still carries one, per SPEC_FULL.md item 14).
package stats

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink is the metrics surface the processor and concurrency harness
// report against.
type Sink interface {
	// IncDropped counts one packet dropped for reason (e.g.
	// "decode-error", "no-subnet", "bad-server-id").
	IncDropped(reason string)

	// ObserveLatency records the time spent processing one message of
	// msgType end to end.
	ObserveLatency(msgType string, d time.Duration)

	// SetQueueDepth reports the current depth of the named bounded
	// queue (e.g. "ingress", "egress").
	SetQueueDepth(name string, n int)
}

// Noop is a [Sink] that discards every observation.
type Noop struct{}

// type check
var _ Sink = Noop{}

func (Noop) IncDropped(string)                    {}
func (Noop) ObserveLatency(string, time.Duration) {}
func (Noop) SetQueueDepth(string, int)            {}

// Prometheus is the bundled default [Sink], backed by
// github.com/prometheus/client_golang, matching the teacher's
// internal/prometheus server.
type Prometheus struct {
	mux *http.ServeMux

	dropped    *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	queueDepth *prometheus.GaugeVec
}

// NewPrometheus returns a Prometheus sink registering its collectors
// under namespace, with a "/metrics" handler mounted on its mux.
func NewPrometheus(namespace string) (p *Prometheus) {
	p = &Prometheus{mux: http.NewServeMux()}

	p.dropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dhcp4",
		Name:      "dropped_total",
		Help:      "Count of DHCPv4 packets dropped, by reason.",
	}, []string{"reason"})

	p.latency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "dhcp4",
		Name:      "processing_seconds",
		Help:      "Per-message processing latency, by message type.",
		Buckets:   prometheus.ExponentialBuckets(0.00025, 2, 16),
	}, []string{"msg_type"})

	p.queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dhcp4",
		Name:      "queue_depth",
		Help:      "Current depth of a bounded internal queue, by name.",
	}, []string{"queue"})

	p.mux.Handle("/metrics", promhttp.Handler())

	return p
}

// type check
var _ Sink = (*Prometheus)(nil)

func (p *Prometheus) IncDropped(reason string) {
	p.dropped.WithLabelValues(reason).Inc()
}

func (p *Prometheus) ObserveLatency(msgType string, d time.Duration) {
	p.latency.WithLabelValues(msgType).Observe(d.Seconds())
}

func (p *Prometheus) SetQueueDepth(name string, n int) {
	p.queueDepth.WithLabelValues(name).Set(float64(n))
}

// Handler returns the http.Handler serving "/metrics".
func (p *Prometheus) Handler() (h http.Handler) { return p.mux }
