// Package metrics exposes Prometheus instrumentation for the request chain.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests counts completed requests by method and status code.
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_requests_total",
		Help: "Completed requests by method and status code",
	}, []string{"method", "status"})

	// Duration observes end-to-end request latency through the whole chain.
	Duration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_request_duration_seconds",
		Help:    "End-to-end request latency by method",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// Rejections counts requests terminated by the chain, by error code.
	// The code labels match the `type` field of error response bodies.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_rejections_total",
		Help: "Requests rejected by the chain, by error code",
	}, []string{"code"})

	// Panics counts recovered handler panics.
	Panics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aegis_panics_recovered_total",
		Help: "Panics recovered by the error normalization stage",
	})
)
