package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized interface for collecting application metrics
// about turns, provider requests, and tool executions, built on
// Prometheus.
type Metrics struct {
	// TurnsTotal counts completed turns by outcome (end_turn, awaiting_input,
	// cancelled, empty_call_budget_exceeded).
	TurnsTotal *prometheus.CounterVec

	// TurnDuration measures a full turn's wall-clock time in seconds.
	TurnDuration *prometheus.HistogramVec

	// ProviderRequestDuration measures provider streaming call latency.
	// Labels: provider, model.
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestsTotal counts provider requests by provider, model,
	// and status (success|error).
	ProviderRequestsTotal *prometheus.CounterVec

	// ProviderTokensTotal tracks token consumption by provider, model, and
	// kind (prompt|completion).
	ProviderTokensTotal *prometheus.CounterVec

	// ToolExecutionsTotal counts tool invocations by tool name and status
	// (success|error|denied).
	ToolExecutionsTotal *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// CompactionsTotal counts context compactions performed.
	CompactionsTotal prometheus.Counter

	// RetryAttemptsTotal counts retry attempts by outcome (retried|exhausted).
	RetryAttemptsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the
// default registry. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_turns_total",
				Help: "Total number of turns completed, by outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_turn_duration_seconds",
				Help:    "Duration of a full turn in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_provider_request_duration_seconds",
				Help:    "Duration of provider streaming requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ProviderRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_provider_requests_total",
				Help: "Total number of provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		ProviderTokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_provider_tokens_total",
				Help: "Total tokens used by provider, model, and kind",
			},
			[]string{"provider", "model", "kind"},
		),
		ToolExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		CompactionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentcore_compactions_total",
				Help: "Total number of context compactions performed",
			},
		),
		RetryAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_retry_attempts_total",
				Help: "Total number of retry attempts by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// RecordTurn records a completed turn's outcome and duration.
func (m *Metrics) RecordTurn(outcome string, durationSeconds float64) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordProviderRequest records a provider streaming call's outcome,
// latency, and token usage.
func (m *Metrics) RecordProviderRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.ProviderRequestsTotal.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.ProviderTokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ProviderTokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records a tool call's outcome and latency.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionsTotal.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordCompaction records one context compaction.
func (m *Metrics) RecordCompaction() {
	m.CompactionsTotal.Inc()
}

// RecordRetryAttempt records one retry decision.
func (m *Metrics) RecordRetryAttempt(outcome string) {
	m.RetryAttemptsTotal.WithLabelValues(outcome).Inc()
}
