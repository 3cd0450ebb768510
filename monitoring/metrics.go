package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counters emitted by the control plane. Exporters beyond these
// are out of scope; the counters themselves are part of the contract.
var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alice",
		Subsystem: "router",
		Name:      "requests_total",
		Help:      "Routed requests by tier and outcome.",
	}, []string{"tier", "outcome"})

	FallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alice",
		Subsystem: "router",
		Name:      "fallbacks_total",
		Help:      "Requests that used the single-step tier fallback.",
	})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alice",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by layer and result.",
	}, []string{"layer", "result"})

	GuardianTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alice",
		Subsystem: "guardian",
		Name:      "transitions_total",
		Help:      "Guardian state transitions.",
	}, []string{"from", "to"})

	GuardianState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "alice",
		Subsystem: "guardian",
		Name:      "state",
		Help:      "Current guardian state as its severity ordinal.",
	})

	BreakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alice",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Circuit breaker state transitions by dependency.",
	}, []string{"dependency", "state"})

	RouteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "alice",
		Subsystem: "router",
		Name:      "route_duration_seconds",
		Help:      "End-to-end routing latency by tier.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"tier"})
)
