// Package metrics holds the prometheus collectors for turn, execution and
// approval accounting. Collectors register against an injected registry so
// tests and embedded setups never fight over the global default.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "adjutant"

type Metrics struct {
	registry *prometheus.Registry

	turnsTotal        *prometheus.CounterVec
	turnDuration      *prometheus.HistogramVec
	turnIterations    prometheus.Histogram
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	approvalsTotal    *prometheus.CounterVec
	pendingActions    prometheus.Gauge
}

// New registers the collectors against reg and returns the handle the rest
// of the system records through. A nil reg gets a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "turns_total",
			Help:      "Completed turns by outcome (final, awaiting_approval, iteration_limit, error).",
		}, []string{"outcome"}),

		turnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "turn_duration_seconds",
			Help:      "Wall time per turn by outcome.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),

		turnIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "turn_iterations",
			Help:      "Model round-trips per turn.",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		}),

		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Capability executions by capability and status (ok, error).",
		}, []string{"capability", "status"}),

		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "execution_duration_seconds",
			Help:      "Capability execution wall time.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30},
		}, []string{"capability"}),

		approvalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "approvals_total",
			Help:      "Approval decisions by settled status (executed, failed, cancelled).",
		}, []string{"status"}),

		pendingActions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "pending",
			Help:      "Actions currently awaiting a user decision.",
		}),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(outcome string, iterations int, d time.Duration) {
	m.turnsTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.WithLabelValues(outcome).Observe(d.Seconds())
	m.turnIterations.Observe(float64(iterations))
}

// ObserveExecution records one capability execution.
func (m *Metrics) ObserveExecution(capability, status string, d time.Duration) {
	m.executionsTotal.WithLabelValues(capability, status).Inc()
	m.executionDuration.WithLabelValues(capability).Observe(d.Seconds())
}

// ObserveApproval records one settled approval decision.
func (m *Metrics) ObserveApproval(status string) {
	m.approvalsTotal.WithLabelValues(status).Inc()
}

// SetPendingActions publishes the pending-action count from the last sweep.
func (m *Metrics) SetPendingActions(n int) {
	m.pendingActions.Set(float64(n))
}
