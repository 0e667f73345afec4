package server

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
)

// NewMetricsRegistry returns a registry preloaded with the go and process collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// PluginObserver counts plugin invocations by outcome kind and records their latency.
func PluginObserver(reg prometheus.Registerer) plugin.Observer {
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kernelplanner",
		Subsystem: "plugin",
		Name:      "invocations_total",
		Help:      "Plugin invocations by function and outcome.",
	}, []string{"plugin", "function", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kernelplanner",
		Subsystem: "plugin",
		Name:      "invocation_seconds",
		Help:      "Plugin handler latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"plugin"})
	reg.MustRegister(calls, latency)

	return func(_ context.Context, p, fn string, elapsed time.Duration, err error) {
		outcome := "success"
		if err != nil {
			outcome = plugin.KindOf(err)
			if outcome == "" {
				outcome = "error"
			}
		}
		calls.WithLabelValues(p, fn, outcome).Inc()
		latency.WithLabelValues(p).Observe(elapsed.Seconds())
	}
}
