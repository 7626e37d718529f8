package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Kazi.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Workflow execution metrics.
	WorkflowRunsTotal   *prometheus.CounterVec
	WorkflowRunDuration *prometheus.HistogramVec

	// Safety validation metrics.
	SafetyChecksTotal *prometheus.CounterVec

	// Sandbox metrics.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration prometheus.Histogram
	SandboxOutputTruncated   *prometheus.CounterVec

	// MCP tool metrics.
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
	RunsInFlight   prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		WorkflowRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Total workflow executions.",
		}, []string{"workflow", "status"}),

		WorkflowRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kazi",
			Subsystem: "workflow",
			Name:      "run_duration_seconds",
			Help:      "Workflow execution duration in seconds, validation through extraction.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"workflow"}),

		SafetyChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "safety",
			Name:      "checks_total",
			Help:      "Total static safety validations performed.",
		}, []string{"source", "result"}),

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandbox subprocess executions.",
		}, []string{"status"}),

		SandboxExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kazi",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandbox subprocess wall-clock duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),

		SandboxOutputTruncated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "sandbox",
			Name:      "output_truncated_total",
			Help:      "Executions whose captured output hit the byte cap.",
		}, []string{"stream"}),

		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Total MCP tool calls.",
		}, []string{"tool", "status"}),

		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kazi",
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "MCP tool call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kazi",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kazi",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kazi",
			Name:      "runs_in_flight",
			Help:      "Number of workflow executions currently running.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.WorkflowRunsTotal,
		m.WorkflowRunDuration,
		m.SafetyChecksTotal,
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.SandboxOutputTruncated,
		m.ToolCallsTotal,
		m.ToolCallDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
		m.RunsInFlight,
	)

	return m
}
