package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the in-process metrics registry for the ingestion
// pipeline. All counters are safe for concurrent use.
type Metrics struct {
	MessagesProcessed prometheus.Counter
	ConnectionErrors  prometheus.Counter
	PublishErrors     prometheus.Counter
	MessagesBySymbol  *prometheus.CounterVec
	ProcessingTime    prometheus.Histogram
	LastMessageTS     prometheus.Gauge

	// Unix nanos of the most recent record; 0 means no record has ever
	// been seen. Kept alongside the gauge because Prometheus gauges are
	// write-only from application code.
	lastSeen atomic.Int64
}

// New creates the metrics set and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "websocket_messages_processed",
			Help: "Total number of websocket messages processed",
		}),
		ConnectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "websocket_connection_errors",
			Help: "Total number of websocket connection errors",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_publish_errors",
			Help: "Total number of failed broker publishes",
		}),
		MessagesBySymbol: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "websocket_messages_by_symbol",
			Help: "Total messages received by symbol",
		}, []string{"symbol"}),
		ProcessingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "message_processing_seconds",
			Help:    "Time spent processing messages",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		LastMessageTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "websocket_last_message_timestamp_seconds",
			Help: "Unix timestamp of last received message",
		}),
	}

	reg.MustRegister(
		m.MessagesProcessed,
		m.ConnectionErrors,
		m.PublishErrors,
		m.MessagesBySymbol,
		m.ProcessingTime,
		m.LastMessageTS,
	)

	return m
}

// RecordMessage records one processed candle: total and per-symbol
// counters, the processing-time distribution, and the last-seen
// timestamp.
func (m *Metrics) RecordMessage(symbol string, processing time.Duration) {
	m.MessagesProcessed.Inc()
	m.MessagesBySymbol.WithLabelValues(symbol).Inc()
	m.ProcessingTime.Observe(processing.Seconds())

	now := time.Now()
	m.LastMessageTS.Set(float64(now.UnixNano()) / 1e9)
	m.lastSeen.Store(now.UnixNano())
}

// LastMessage returns the time of the most recent record, and false if
// no record has ever been recorded.
func (m *Metrics) LastMessage() (time.Time, bool) {
	ns := m.lastSeen.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}
