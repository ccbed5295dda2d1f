package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the server's Prometheus collectors. A nil *metrics is
// valid and records nothing, so the hot path never branches on
// configuration.
type metrics struct {
	exchanges         *prometheus.CounterVec
	exchangeDuration  prometheus.Histogram
	activeConnections prometheus.Gauge
	liveConnections   prometheus.Gauge
	upgradeRejections prometheus.Counter
	bytesReceived     prometheus.Counter
	bytesSent         prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &metrics{
		exchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lume",
			Name:      "exchanges_total",
			Help:      "Completed request/response exchanges.",
		}, []string{"method", "status"}),
		exchangeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lume",
			Name:      "exchange_duration_seconds",
			Help:      "Time from completed request to flushed response.",
			Buckets:   prometheus.DefBuckets,
		}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lume",
			Name:      "active_connections",
			Help:      "Connections currently open.",
		}),
		liveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lume",
			Name:      "live_connections",
			Help:      "Long-lived connections (SSE and WebSocket).",
		}),
		upgradeRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lume",
			Name:      "upgrade_rejections_total",
			Help:      "Long-lived upgrades rejected at the connection cap.",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lume",
			Name:      "received_bytes_total",
			Help:      "Request bytes read off accepted connections.",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lume",
			Name:      "sent_bytes_total",
			Help:      "Response bytes accepted by the transport.",
		}),
	}
}

func (m *metrics) recordExchange(method string, status int, elapsed time.Duration, received, sent int) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.exchangeDuration.Observe(elapsed.Seconds())
	m.bytesReceived.Add(float64(received))
	m.bytesSent.Add(float64(sent))
}

func (m *metrics) connectionOpened() {
	if m != nil {
		m.activeConnections.Inc()
	}
}

func (m *metrics) connectionClosed() {
	if m != nil {
		m.activeConnections.Dec()
	}
}

func (m *metrics) liveStarted() {
	if m != nil {
		m.liveConnections.Inc()
	}
}

func (m *metrics) liveEnded() {
	if m != nil {
		m.liveConnections.Dec()
	}
}

func (m *metrics) upgradeRejected() {
	if m != nil {
		m.upgradeRejections.Inc()
	}
}
