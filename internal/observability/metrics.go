package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	window   *opWindow

	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	Messages        *prometheus.CounterVec
	Outcomes        *prometheus.CounterVec
	BackendCalls    *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec
	MessageLatency  prometheus.Histogram
	QueueRejections prometheus.Counter
	Panics          prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		window:   newOpWindow(256),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of chat sessions held in memory.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Chat messages by channel and direction.",
		}, []string{"channel", "direction"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_outcomes_total",
			Help:      "Processed messages by conversation outcome.",
		}, []string{"outcome"}),
		BackendCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Backend calls by operation and result.",
		}, []string{"op", "result"}),
		BackendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_latency_ms",
			Help:      "Backend call latency in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 200, 400, 800, 1600, 5000},
		}, []string{"op"}),
		MessageLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_latency_ms",
			Help:      "Time from dequeue to reply in milliseconds.",
			Buckets:   []float64{5, 25, 50, 100, 250, 500, 1000, 2500, 10000},
		}),
		QueueRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rejections_total",
			Help:      "Messages rejected because a chat queue was full.",
		}),
		Panics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Recovered panics while handling a message.",
		}),
	}
}

func (m *Metrics) ObserveBackendCall(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendCalls.WithLabelValues(op, result).Inc()
	m.BackendLatency.WithLabelValues(op).Observe(float64(d.Milliseconds()))
	m.window.observe(op, result, d)
}

func (m *Metrics) ObserveMessage(channel, direction string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(channel, direction).Inc()
}

// ObserveHandled records one processed message.
func (m *Metrics) ObserveHandled(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
	m.MessageLatency.Observe(float64(d.Milliseconds()))
	m.window.observe(messageOp, outcome, d)
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) QueueRejected() {
	if m == nil {
		return
	}
	m.QueueRejections.Inc()
}

func (m *Metrics) PanicRecovered() {
	if m == nil {
		return
	}
	m.Panics.Inc()
}

// SnapshotLatency returns per-operation latency and outcome counts over the
// most recent samples.
func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC(), Operations: []OperationStats{}}
	}
	return m.window.snapshot()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
