// Package metrics exposes Prometheus instruments for the delivery core.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the counters and gauges shared by hub, queue and worker.
type Metrics struct {
	// ConnectionsActive tracks live connections on this instance.
	ConnectionsActive prometheus.Gauge

	// EventsPublished counts events handed to the backplane.
	// Labels: type (presence|message|status_update), result (ok|error)
	EventsPublished *prometheus.CounterVec

	// BroadcastSends counts per-connection sends during broadcast passes.
	// Labels: result (ok|failed)
	BroadcastSends *prometheus.CounterVec

	// ConnectionsEvicted counts connections pruned after a failed send.
	ConnectionsEvicted prometheus.Counter

	// BroadcastDuration measures one broadcast pass over a channel.
	BroadcastDuration prometheus.Histogram

	// QueueSubmissions counts envelopes submitted to the ingest queue.
	// Labels: result (ok|error)
	QueueSubmissions *prometheus.CounterVec

	// MessagesPersisted counts envelopes written and finalized by the worker.
	MessagesPersisted prometheus.Counter

	// PersistFailures counts envelopes handed back for redelivery.
	// Labels: stage (decode|store|publish|ack)
	PersistFailures *prometheus.CounterVec

	// FramesDropped counts inbound frames that were not acted on.
	// Labels: reason
	FramesDropped *prometheus.CounterVec
}

// New registers all instruments on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ltchat",
			Name:      "connections_active",
			Help:      "Live channel connections on this instance.",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ltchat",
			Name:      "events_published_total",
			Help:      "Events published on the backplane.",
		}, []string{"type", "result"}),
		BroadcastSends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ltchat",
			Name:      "broadcast_sends_total",
			Help:      "Per-connection sends during broadcast passes.",
		}, []string{"result"}),
		ConnectionsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ltchat",
			Name:      "connections_evicted_total",
			Help:      "Connections pruned after a failed send.",
		}),
		BroadcastDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ltchat",
			Name:      "broadcast_duration_seconds",
			Help:      "Duration of one broadcast pass over a channel.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		QueueSubmissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ltchat",
			Name:      "queue_submissions_total",
			Help:      "Envelopes submitted to the ingest queue.",
		}, []string{"result"}),
		MessagesPersisted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ltchat",
			Name:      "messages_persisted_total",
			Help:      "Messages persisted and finalized.",
		}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ltchat",
			Name:      "persist_failures_total",
			Help:      "Envelopes handed back to the queue for redelivery.",
		}, []string{"stage"}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ltchat",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames that were dropped.",
		}, []string{"reason"}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

func (m *Metrics) Published(eventType string, err error) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType, result(err)).Inc()
}

// BroadcastPass records the outcome of one pass over a channel.
func (m *Metrics) BroadcastPass(seconds float64, ok, failed int) {
	if m == nil {
		return
	}
	m.BroadcastDuration.Observe(seconds)
	m.BroadcastSends.WithLabelValues("ok").Add(float64(ok))
	m.BroadcastSends.WithLabelValues("failed").Add(float64(failed))
	m.ConnectionsEvicted.Add(float64(failed))
}

func (m *Metrics) Submitted(err error) {
	if m == nil {
		return
	}
	m.QueueSubmissions.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) Persisted() {
	if m == nil {
		return
	}
	m.MessagesPersisted.Inc()
}

func (m *Metrics) PersistFailed(stage string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}
