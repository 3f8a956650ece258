// Package metrics exposes Prometheus instrumentation for the budget ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Denials counts budget-guard denials by scope (agent or tenant).
	Denials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_budget_denials_total",
		Help: "Total requests denied by the budget guard, by scope",
	}, []string{"scope"})

	// LedgerErrors counts failed round trips to the counter store.
	LedgerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aegis_budget_ledger_errors_total",
		Help: "Total budget ledger store errors",
	})
)
