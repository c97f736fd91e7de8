package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the agent core's Prometheus metrics: query outcomes,
// engine round trips, tool executions, token spend, and offline queue
// activity.
type Metrics struct {
	// QueryCounter counts submitted queries by terminal state.
	// Labels: state (completed|blocked|queued|error)
	QueryCounter *prometheus.CounterVec

	// EngineRequestDuration measures engine RPC latency in seconds.
	// Labels: method
	EngineRequestDuration *prometheus.HistogramVec

	// TokensUsed tracks token consumption.
	// Labels: model, type (input|output)
	TokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts native tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// QueueDepth is the number of queries waiting for replay.
	QueueDepth prometheus.Gauge

	// QueueEventCounter counts offline queue progress events.
	// Labels: kind
	QueueEventCounter *prometheus.CounterVec

	// SummarizationCounter counts background summarization outcomes.
	// Labels: status (success|error|skipped)
	SummarizationCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with reg. Call once at
// startup; duplicate registration panics by promauto convention.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		QueryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "navixmind_queries_total",
				Help: "Total number of submitted queries by terminal state",
			},
			[]string{"state"},
		),
		EngineRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "navixmind_engine_request_duration_seconds",
				Help:    "Duration of reasoning engine RPC calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"method"},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "navixmind_tokens_total",
				Help: "Total number of tokens used by model and type",
			},
			[]string{"model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "navixmind_tool_executions_total",
				Help: "Total number of native tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "navixmind_tool_execution_duration_seconds",
				Help:    "Duration of native tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "navixmind_queue_depth",
				Help: "Number of offline-queued queries awaiting replay",
			},
		),
		QueueEventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "navixmind_queue_events_total",
				Help: "Total number of offline queue progress events by kind",
			},
			[]string{"kind"},
		),
		SummarizationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "navixmind_summarizations_total",
				Help: "Total number of summarization attempts by status",
			},
			[]string{"status"},
		),
	}
}

// RecordQuery increments the query counter for a terminal state.
func (m *Metrics) RecordQuery(state string) {
	m.QueryCounter.WithLabelValues(state).Inc()
}

// RecordEngineRequest records one engine RPC round trip.
func (m *Metrics) RecordEngineRequest(method string, durationSeconds float64) {
	m.EngineRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordTokens adds token usage for a model invocation.
func (m *Metrics) RecordTokens(model string, inputTokens, outputTokens int64) {
	if inputTokens > 0 {
		m.TokensUsed.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.TokensUsed.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one native tool invocation.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordQueueEvent counts one offline queue progress event.
func (m *Metrics) RecordQueueEvent(kind string) {
	m.QueueEventCounter.WithLabelValues(kind).Inc()
}

// SetQueueDepth updates the queue depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordSummarization counts one summarization attempt.
func (m *Metrics) RecordSummarization(status string) {
	m.SummarizationCounter.WithLabelValues(status).Inc()
}
