package planner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors updated by the engine.
type Metrics struct {
	Runs        *prometheus.CounterVec
	StepLatency *prometheus.HistogramVec
}

// NewMetrics creates the planner collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kernelplanner",
			Subsystem: "planner",
			Name:      "runs_total",
			Help:      "Planner runs by strategy and final status.",
		}, []string{"type", "status"}),
		StepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kernelplanner",
			Subsystem: "planner",
			Name:      "step_seconds",
			Help:      "Latency of executed plan steps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"function", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.StepLatency)
	}
	return m
}

func (m *Metrics) observeRun(t Type, s Status) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(string(t), string(s)).Inc()
}

func (m *Metrics) observeStep(r StepResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !r.Success {
		outcome = "failure"
	}
	m.StepLatency.WithLabelValues(r.Function, outcome).Observe(elapsed.Seconds())
}
