// Package metrics exposes Prometheus collectors for the execution engine.
// Collectors are registered on the default registry; the daemon serves
// them at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	claims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "baton_claims_total",
		Help: "Total claim attempts by the worker pool",
	})

	claimedExecutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "baton_claimed_executions_total",
		Help: "Total executions claimed by the worker pool",
	})

	executions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baton_executions_total",
			Help: "Total executions reaching a terminal status",
		},
		[]string{"status"},
	)

	steps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baton_steps_total",
			Help: "Total step attempts by type and status",
		},
		[]string{"type", "status"},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "baton_step_duration_seconds",
			Help:    "Duration of step attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	retriesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "baton_retries_scheduled_total",
		Help: "Total retries scheduled after failed step attempts",
	})

	dlqEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "baton_dlq_entries_total",
		Help: "Total executions dead-lettered after exhausting retries",
	})

	staleClaimsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "baton_stale_claims_released_total",
		Help: "Total stale worker claims released by the sweeper",
	})

	activeExecutions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "baton_active_executions",
		Help: "Executions currently running in this process",
	})

	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baton_store_errors_total",
			Help: "Total store operation errors by operation",
		},
		[]string{"op"},
	)
)

// RecordClaim records one claim attempt that returned n executions.
func RecordClaim(n int) {
	claims.Inc()
	if n > 0 {
		claimedExecutions.Add(float64(n))
	}
}

// RecordExecution records an execution reaching a terminal status.
func RecordExecution(status string) {
	executions.WithLabelValues(status).Inc()
}

// RecordStep records one step attempt.
func RecordStep(stepType, status string, duration time.Duration) {
	steps.WithLabelValues(stepType, status).Inc()
	stepDuration.WithLabelValues(stepType).Observe(duration.Seconds())
}

// RecordRetryScheduled increments the scheduled-retry counter.
func RecordRetryScheduled() {
	retriesScheduled.Inc()
}

// RecordDLQEntry increments the dead-letter counter.
func RecordDLQEntry() {
	dlqEntries.Inc()
}

// RecordStaleClaimsReleased records n claims released by the sweeper.
func RecordStaleClaimsReleased(n int) {
	if n > 0 {
		staleClaimsReleased.Add(float64(n))
	}
}

// ExecutionStarted increments the active-execution gauge.
func ExecutionStarted() {
	activeExecutions.Inc()
}

// ExecutionFinished decrements the active-execution gauge.
func ExecutionFinished() {
	activeExecutions.Dec()
}

// RecordStoreError records a failed store operation.
func RecordStoreError(op string) {
	storeErrors.WithLabelValues(op).Inc()
}
