// Package metrics exposes Prometheus instrumentation for the upstream proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerState tracks each backend breaker's position (0 closed,
	// 1 open, 2 half-open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aegis_proxy_breaker_state",
		Help: "Circuit breaker state per backend (0 closed, 1 open, 2 half-open)",
	}, []string{"backend"})

	// ShortCircuits counts requests refused because the breaker was open.
	ShortCircuits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_proxy_short_circuits_total",
		Help: "Requests short-circuited by an open breaker, by backend",
	}, []string{"backend"})

	// FallbackServed counts short-circuited requests answered from the
	// last-known-good cache.
	FallbackServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_proxy_fallback_served_total",
		Help: "Short-circuited requests served a cached response, by backend",
	}, []string{"backend"})

	// ForwardDuration observes end-to-end upstream call latency.
	ForwardDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_proxy_forward_duration_seconds",
		Help:    "Upstream call latency by backend",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend"})

	// ForwardErrors counts failed upstream calls by kind (network, timeout,
	// server_error).
	ForwardErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_proxy_forward_errors_total",
		Help: "Failed upstream calls by backend and kind",
	}, []string{"backend", "kind"})
)
