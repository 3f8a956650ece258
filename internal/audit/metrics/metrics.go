// Package metrics exposes Prometheus instrumentation for the audit pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks how many records sit in the sink awaiting flush.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_audit_queue_depth",
		Help: "Audit records queued and not yet persisted",
	})

	// Dropped counts records lost to the full-queue policy, by policy.
	Dropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_audit_dropped_total",
		Help: "Audit records dropped because the queue was full, by policy",
	}, []string{"policy"})

	// FlushFailures counts batch writes that failed against the store.
	FlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aegis_audit_flush_failures_total",
		Help: "Audit batch writes that failed",
	})

	// Persisted counts records durably written.
	Persisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aegis_audit_persisted_total",
		Help: "Audit records durably written",
	})
)
