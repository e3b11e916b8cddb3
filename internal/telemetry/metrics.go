// Package telemetry exports engine activity as Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/reconcilor/internal/account"
	"github.com/roach88/reconcilor/internal/engine"
)

// Metrics is an engine.Observer that counts cycles and operations.
type Metrics struct {
	cycles      *prometheus.CounterVec
	operations  *prometheus.CounterVec
	planEntries *prometheus.HistogramVec
	reconciling prometheus.Gauge
	accounts    *prometheus.GaugeVec
}

var _ engine.Observer = (*Metrics)(nil)

// New registers the reconcilor metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcilor_cycles_total",
			Help: "Finished reconcile cycles by outcome.",
		}, []string{"outcome"}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcilor_operations_total",
			Help: "Finished boundary operations by kind and result.",
		}, []string{"kind", "result"}),
		planEntries: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reconcilor_plan_entries",
			Help:    "Plan entries per computed plan.",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		}, []string{"kind"}),
		reconciling: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reconcilor_cycle_in_progress",
			Help: "1 while a cycle is running.",
		}),
		accounts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reconcilor_validated_accounts",
			Help: "Accounts in the last computed plan by validation result.",
		}, []string{"result"}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// CycleStarted implements engine.Observer.
func (m *Metrics) CycleStarted(engine.CycleInfo) {
	m.reconciling.Set(1)
}

// PlanComputed implements engine.Observer.
func (m *Metrics) PlanComputed(_ engine.CycleInfo, plan account.Plan, outcome account.ValidationOutcome) {
	m.planEntries.WithLabelValues("create").Observe(float64(len(plan.ToCreateRemotely)))
	m.planEntries.WithLabelValues("import").Observe(float64(len(plan.ToImportLocally)))
	m.accounts.WithLabelValues("valid").Set(float64(len(outcome.Valid)))
	m.accounts.WithLabelValues("invalid").Set(float64(len(outcome.Invalid)))
}

// OperationFinished implements engine.Observer.
func (m *Metrics) OperationFinished(r engine.OperationReport) {
	result := "ok"
	if !r.OK() {
		result = "error"
	}
	m.operations.WithLabelValues(string(r.Kind), result).Inc()
}

// CycleFinished implements engine.Observer.
func (m *Metrics) CycleFinished(r engine.CycleReport) {
	m.cycles.WithLabelValues(string(r.Outcome)).Inc()
	m.reconciling.Set(0)
}
