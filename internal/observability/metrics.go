package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	TaskEvents     *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec
	StepLatency    prometheus.Histogram
	TaskDuration   prometheus.Histogram

	stepWindow *stepStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active client sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		TaskEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Task lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		StepLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_ms",
			Help:      "Duration of a single browser step in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}),
		TaskDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_ms",
			Help:      "End-to-end task duration in milliseconds.",
			Buckets:   []float64{1000, 5000, 15000, 30000, 60000, 180000, 600000},
		}),
		stepWindow: newStepStageWindow(256),
	}
}

func (m *Metrics) ObserveTaskEvent(event string) {
	if m == nil {
		return
	}
	m.TaskEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveStepLatency(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Milliseconds())
	m.StepLatency.Observe(ms)
	m.stepWindow.Observe(stage, ms)
}

func (m *Metrics) ObserveTaskDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.TaskDuration.Observe(float64(d.Milliseconds()))
}

// StepLatencySnapshot reports rolling-window percentiles for a lightweight
// debug endpoint, without scraping Prometheus.
func (m *Metrics) StepLatencySnapshot() StepStageSnapshot {
	if m == nil {
		return StepStageSnapshot{}
	}
	return m.stepWindow.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
