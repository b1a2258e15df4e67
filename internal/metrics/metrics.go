// Package metrics holds the Prometheus collectors for guard decisions, rate
// limiting and the message bus. All methods are safe on a nil *Metrics, so
// components can be built without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "agentguard"

type Metrics struct {
	Registry *prometheus.Registry

	busPublished    *prometheus.CounterVec
	busDropped      *prometheus.CounterVec
	busDelivered    *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	rateLimited     *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	evalDuration    *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		busPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_published_total",
				Help:      "Messages enqueued on the bus",
			},
			[]string{"queue"},
		),
		busDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_dropped_total",
				Help:      "Messages dropped because a bus queue stayed full",
			},
			[]string{"queue"},
		),
		busDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_delivered_total",
				Help:      "Outbound messages delivered to channel handlers",
			},
			[]string{"channel"},
		),
		handlerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_handler_failures_total",
				Help:      "Outbound handler errors and panics",
			},
			[]string{"channel"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bus_queue_depth",
				Help:      "Messages waiting in a bus queue",
			},
			[]string{"queue"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Operations refused by the rate limiter",
			},
			[]string{"operation"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guard_decisions_total",
				Help:      "Policy decisions by guard and outcome",
			},
			[]string{"guard", "decision"},
		),
		evalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_milliseconds",
				Help:      "Policy evaluation duration in milliseconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 50, 100, 200, 500},
			},
			[]string{"guard"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.busPublished,
		m.busDropped,
		m.busDelivered,
		m.handlerFailures,
		m.queueDepth,
		m.rateLimited,
		m.decisions,
		m.evalDuration,
		m.toolCalls,
	)
	return m
}

func (m *Metrics) BusPublished(queue string) {
	if m == nil {
		return
	}
	m.busPublished.WithLabelValues(queue).Inc()
}

func (m *Metrics) BusDropped(queue string) {
	if m == nil {
		return
	}
	m.busDropped.WithLabelValues(queue).Inc()
}

func (m *Metrics) BusDelivered(channel string) {
	if m == nil {
		return
	}
	m.busDelivered.WithLabelValues(channel).Inc()
}

func (m *Metrics) HandlerFailed(channel string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) SetQueueDepth(queue string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(n))
}

func (m *Metrics) RateLimited(operation string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(operation).Inc()
}

// Decision counts one policy outcome and records how long it took.
func (m *Metrics) Decision(guard, decision string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(guard, decision).Inc()
	m.evalDuration.WithLabelValues(guard).Observe(float64(elapsed) / float64(time.Millisecond))
}

func (m *Metrics) ToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
}
