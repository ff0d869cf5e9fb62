package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Step outcomes recorded by StepsTotal.
const (
	stepExecuted = "executed"
	stepCached   = "cached"
	stepFailed   = "failed"
)

// Run outcomes recorded by RunsTotal.
const (
	OutcomeProcessed = "processed"
	OutcomeGated     = "gated"
	OutcomeFailed    = "failed"
)

// Metrics holds the pipeline's Prometheus metrics.
type Metrics struct {
	StepsTotal   *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	RunsTotal    *prometheus.CounterVec
	Attempts     prometheus.Histogram
	CostTotal    *prometheus.CounterVec
	ActiveRuns   prometheus.Gauge
}

// NewMetrics registers the pipeline metrics with reg. A nil reg uses a
// private registry, which keeps tests independent of each other.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_workflow_steps_total",
			Help: "Workflow steps by outcome (executed, cached, failed)",
		}, []string{"step", "outcome"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trove_workflow_step_duration_seconds",
			Help:    "Time spent executing a workflow step",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"step"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_workflow_runs_total",
			Help: "Finished workflow runs by outcome",
		}, []string{"outcome"}),
		Attempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "trove_workflow_attempts",
			Help:    "Attempts used by a finished workflow run",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		CostTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_provider_cost_usd_total",
			Help: "Cumulative metered provider cost in USD",
		}, []string{"provider"}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trove_workflow_active_runs",
			Help: "Workflow runs currently in flight",
		}),
	}
}
