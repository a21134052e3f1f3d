// Package metrics holds the engine's Prometheus collectors. Collectors
// are registered once at import via promauto and shared by the saga
// engine, the duplicate resolver, and the recovery job.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SagaExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_saga_executions_total",
		Help: "Saga executions by strategy and result",
	}, []string{"strategy", "result"})

	SagaRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_saga_transactional_retries_total",
		Help: "Transactional saga attempts retried after a transient failure",
	})

	CompensationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_saga_compensation_failures_total",
		Help: "Compensators that returned an error or panicked",
	})

	DuplicateResolutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_duplicate_resolutions_total",
		Help: "Unique-constraint conflicts resolved to a prior write",
	})

	RecoveryPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_recovery_passes_total",
		Help: "Recovery job scan passes",
	})

	RecoveryOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_recovery_operations_total",
		Help: "Stale operations reconciled, by operation type and outcome",
	}, []string{"type", "outcome"})
)
