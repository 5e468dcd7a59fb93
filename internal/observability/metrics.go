// Package observability groups the Prometheus instruments and the
// in-process latency window exposed by the perf endpoint.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the memory daemon.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	MessagesAppended *prometheus.CounterVec
	MessagesPruned   prometheus.Counter
	SessionsArchived prometheus.Counter
	RecoverySkipped  prometheus.Counter
	MemoryOps        *prometheus.CounterVec
	AppendLatency    prometheus.Histogram
	RecallLatency    prometheus.Histogram

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live sessions in the short-term store.",
		}),
		MessagesAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended by role.",
		}, []string{"role"}),
		MessagesPruned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_pruned_total",
			Help:      "Message references evicted from active windows.",
		}),
		SessionsArchived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_archived_total",
			Help:      "Idle sessions moved into long-term memory.",
		}),
		RecoverySkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_skipped_records_total",
			Help:      "Durable records skipped as corrupt during recovery.",
		}),
		MemoryOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_ops_total",
			Help:      "Long-term memory operations by op and outcome.",
		}, []string{"op", "outcome"}),
		AppendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "append_latency_ms",
			Help:      "Append latency (message write + prune + session write) in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
		RecallLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recall_latency_ms",
			Help:      "Recall latency (embed + similarity search) in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		window: newLatencyWindow(256),
	}
}

// ObserveAppend records one append's latency in both the histogram and
// the rolling window.
func (m *Metrics) ObserveAppend(d time.Duration) {
	ms := float64(d.Milliseconds())
	m.AppendLatency.Observe(ms)
	m.window.Observe(StageAppend, ms)
}

// ObserveRecall records one recall's latency.
func (m *Metrics) ObserveRecall(d time.Duration) {
	ms := float64(d.Milliseconds())
	m.RecallLatency.Observe(ms)
	m.window.Observe(StageRecall, ms)
}

// ObserveSweep records one archival sweep's duration.
func (m *Metrics) ObserveSweep(d time.Duration) {
	m.window.Observe(StageArchiveSweep, float64(d.Milliseconds()))
}

// ObserveIndicator bumps a named incident counter (history gaps, corrupt
// records) surfaced in the perf snapshot.
func (m *Metrics) ObserveIndicator(name string) {
	m.window.ObserveIndicator(name)
}

// SnapshotLatency returns the current rolling-window percentiles.
func (m *Metrics) SnapshotLatency() LatencySnapshot {
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
