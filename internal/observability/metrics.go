// Package observability holds the Prometheus metrics and OpenTelemetry
// tracer shared by the run orchestrator.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector exported on /metrics.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RunTransition("running")
//	metrics.EventEmitted("tool_result")
type Metrics struct {
	// RunsTotal counts status transitions.
	// Labels: status (created|running|completed|error|cancelled)
	RunsTotal *prometheus.CounterVec

	// RunDuration measures wall-clock time from start to a terminal status.
	// Labels: status
	RunDuration *prometheus.HistogramVec

	// EventsEmitted counts events written to the run log.
	// Labels: type
	EventsEmitted *prometheus.CounterVec

	// PublishFailures counts live publishes that failed after the log write.
	PublishFailures prometheus.Counter

	// MessagesDropped counts messages discarded because a subscriber's
	// buffer was full.
	// Labels: broker (memory|redis)
	MessagesDropped *prometheus.CounterVec

	// ActiveSubscribers tracks subscribers registered in the pool.
	ActiveSubscribers prometheus.Gauge

	// ToolCalls counts tool invocations.
	// Labels: tool, outcome (ok|error|blocked)
	ToolCalls *prometheus.CounterVec

	// TriggerCycles counts poll cycles.
	// Labels: trigger, outcome (ok|error|skipped)
	TriggerCycles *prometheus.CounterVec

	// TriggerItems counts items that produced a run.
	// Labels: trigger
	TriggerItems *prometheus.CounterVec
}

// NewMetrics creates every collector and registers it with reg. Tests pass
// a fresh prometheus.NewRegistry() to stay isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_runs_total",
				Help: "Run status transitions by resulting status",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentrun_run_duration_seconds",
				Help:    "Duration of runs from start to terminal status",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
			},
			[]string{"status"},
		),
		EventsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_events_emitted_total",
				Help: "Events persisted to the run log by type",
			},
			[]string{"type"},
		),
		PublishFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentrun_publish_failures_total",
				Help: "Live event publishes that failed",
			},
		),
		MessagesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_pubsub_dropped_total",
				Help: "Messages dropped because a subscriber buffer was full",
			},
			[]string{"broker"},
		),
		ActiveSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentrun_pubsub_subscribers",
				Help: "Subscribers currently registered in the pool",
			},
		),
		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_tool_calls_total",
				Help: "Tool invocations by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		TriggerCycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_trigger_cycles_total",
				Help: "Trigger poll cycles by outcome",
			},
			[]string{"trigger", "outcome"},
		),
		TriggerItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_trigger_items_total",
				Help: "Trigger items that created a run",
			},
			[]string{"trigger"},
		),
	}
}

// The helpers below are nil-safe so components can run without metrics.

func (m *Metrics) RunTransition(status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RunFinished(status string, seconds float64) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(status).Observe(seconds)
}

func (m *Metrics) EventEmitted(eventType string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(eventType).Inc()
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

func (m *Metrics) MessageDropped(broker string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(broker).Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Dec()
}

func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) TriggerCycle(trigger, outcome string) {
	if m == nil {
		return
	}
	m.TriggerCycles.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) TriggerItem(trigger string) {
	if m == nil {
		return
	}
	m.TriggerItems.WithLabelValues(trigger).Inc()
}
