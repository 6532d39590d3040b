// Package metrics exposes Prometheus instruments for the orchestration
// engine: active-run gauge, tool-call outcome counters, run-terminal
// counters, and capability latency histograms.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentic",
		Name:      "active_runs",
		Help:      "Number of runs currently in status=running.",
	})

	ToolCallTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentic",
		Name:      "tool_call_total",
		Help:      "Tool call outcomes by tool and outcome.",
	}, []string{"tool", "outcome"})

	RunTerminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentic",
		Name:      "run_terminal_total",
		Help:      "Terminal run transitions by mode and status.",
	}, []string{"mode", "status"})

	CapabilityLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentic",
		Name:      "capability_latency_seconds",
		Help:      "Latency of capability client calls (llm, search, chart).",
		Buckets:   prometheus.DefBuckets,
	}, []string{"capability"})
)

// ObserveCapability records how long a capability call took, for use as
// `defer metrics.ObserveCapability("llm")()`.
func ObserveCapability(capability string) func() {
	start := time.Now()
	return func() {
		CapabilityLatencySeconds.WithLabelValues(capability).Observe(time.Since(start).Seconds())
	}
}
