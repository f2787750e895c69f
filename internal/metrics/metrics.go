// Package metrics defines the Prometheus metrics exported by raid.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the agent and tool metrics.
type Metrics struct {
	ProviderRequests *prometheus.CounterVec   // provider calls by provider and outcome
	ProviderLatency  *prometheus.HistogramVec // provider call latency by provider
	ToolCalls        *prometheus.CounterVec   // tool executions by tool and status
	ToolDuration     *prometheus.HistogramVec // tool execution time by tool
	SessionResults   *prometheus.CounterVec   // loop results by kind
	ActiveSessions   prometheus.Gauge         // sessions currently inside the loop
}

// New creates the metrics and registers them with reg. Pass a fresh
// registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "raid_provider_requests_total",
			Help: "Total number of inference provider requests",
		}, []string{"provider", "outcome"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "raid_provider_request_duration_seconds",
			Help:    "Latency of inference provider requests",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"provider"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "raid_tool_calls_total",
			Help: "Total number of diagnostic tool executions",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "raid_tool_duration_seconds",
			Help:    "Execution time of diagnostic tools",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		SessionResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "raid_session_results_total",
			Help: "Total number of session loop results by kind",
		}, []string{"result"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raid_sessions_active",
			Help: "Number of sessions currently running the diagnostic loop",
		}),
	}

	reg.MustRegister(m.ProviderRequests)
	reg.MustRegister(m.ProviderLatency)
	reg.MustRegister(m.ToolCalls)
	reg.MustRegister(m.ToolDuration)
	reg.MustRegister(m.SessionResults)
	reg.MustRegister(m.ActiveSessions)

	return m
}

// ObserveProvider records one provider call.
func (m *Metrics) ObserveProvider(provider string, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.ProviderRequests.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveTool records one tool execution.
func (m *Metrics) ObserveTool(tool string, success bool, elapsed time.Duration) {
	status := "success"
	if !success {
		status = "failed"
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveResult records a loop result kind such as "success" or
// "limit_reached".
func (m *Metrics) ObserveResult(kind string) {
	m.SessionResults.WithLabelValues(kind).Inc()
}
