package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups the client-side counters. A nil *Collector is valid and
// records nothing.
type Collector struct {
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	spins       *prometheus.CounterVec
	failures    *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotclient_backend_requests_total",
				Help: "Backend calls by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "slotclient_backend_request_seconds",
				Help:    "Backend call latency by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		spins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotclient_spins_total",
				Help: "Spins started by accounting kind",
			},
			[]string{"kind"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotclient_spin_failures_total",
				Help: "Spin attempts that did not reach the reels, by failure kind",
			},
			[]string{"kind"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotclient_state_transitions_total",
				Help: "Orchestrator state transitions",
			},
			[]string{"from", "to"},
		),
	}
	if reg != nil {
		reg.MustRegister(c.requests, c.latency, c.spins, c.failures, c.transitions)
	}
	return c
}

// ObserveRequest records one backend call.
func (c *Collector) ObserveRequest(op, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(op, outcome).Inc()
	c.latency.WithLabelValues(op).Observe(d.Seconds())
}

// SpinStarted records a spin entering the reels.
func (c *Collector) SpinStarted(kind string) {
	if c == nil {
		return
	}
	c.spins.WithLabelValues(kind).Inc()
}

// SpinFailed records a rejected or failed spin attempt.
func (c *Collector) SpinFailed(kind string) {
	if c == nil {
		return
	}
	c.failures.WithLabelValues(kind).Inc()
}

// Transition records a state change.
func (c *Collector) Transition(from, to string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(from, to).Inc()
}

// Handler exposes g in the prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
