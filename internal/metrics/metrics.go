// Package metrics exposes Prometheus instrumentation for a chat session.
//
// Collectors are registered on a caller-supplied registry so that several
// sessions (or tests) never collide on the default registry. Every method is
// safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/chatsync/internal/chat"
)

// Metrics holds the session collectors.
type Metrics struct {
	registry *prometheus.Registry

	MessagesSent      *prometheus.CounterVec
	MessagesConfirmed *prometheus.CounterVec
	MessagesFailed    *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	DuplicatesDropped *prometheus.CounterVec
	InboundDropped    *prometheus.CounterVec
	ReadReceipts      prometheus.Counter
	Terminations      prometheus.Counter

	PendingMessages prometheus.Gauge
	ConnectionState prometheus.Gauge
	TypingPeers     prometheus.Gauge

	SendLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
// A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		MessagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_messages_sent_total",
				Help: "Total optimistic sends started",
			},
			[]string{"kind"},
		),
		MessagesConfirmed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_messages_confirmed_total",
				Help: "Total provisional messages confirmed",
			},
			[]string{"path"}, // "ack", "token" or "window"
		),
		MessagesFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_messages_failed_total",
				Help: "Total sends marked failed",
			},
			[]string{"reason"},
		),
		MessagesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_messages_received_total",
				Help: "Total inbound messages by outcome",
			},
			[]string{"outcome"}, // "inserted", "replaced" or "duplicate"
		),
		DuplicatesDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_duplicate_sends_dropped_total",
				Help: "Total sends dropped by the repeat-tap guard",
			},
			[]string{"kind"},
		),
		InboundDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_inbound_dropped_total",
				Help: "Total malformed inbound events dropped",
			},
			[]string{"event"},
		),
		ReadReceipts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_read_receipts_total",
				Help: "Total read receipts applied",
			},
		),
		Terminations: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_session_terminations_total",
				Help: "Total sessions ended by authentication failure",
			},
		),
		PendingMessages: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatsync_pending_messages",
				Help: "Provisional messages not yet confirmed",
			},
		),
		ConnectionState: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatsync_connection_state",
				Help: "0 disconnected, 1 connecting, 2 connected",
			},
		),
		TypingPeers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatsync_typing_peers",
				Help: "Peers typing in the active room",
			},
		),
		SendLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatsync_send_latency_seconds",
				Help:    "Time from optimistic insert to confirmation",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Sent(kind chat.Kind) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) Confirmed(path string, kind chat.Kind, latency time.Duration) {
	if m == nil {
		return
	}
	m.MessagesConfirmed.WithLabelValues(path).Inc()
	if latency >= 0 {
		m.SendLatency.WithLabelValues(string(kind)).Observe(latency.Seconds())
	}
}

func (m *Metrics) Failed(reason string) {
	if m == nil {
		return
	}
	m.MessagesFailed.WithLabelValues(reason).Inc()
}

func (m *Metrics) Received(outcome string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DuplicateSend(kind chat.Kind) {
	if m == nil {
		return
	}
	m.DuplicatesDropped.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) Dropped(event string) {
	if m == nil {
		return
	}
	m.InboundDropped.WithLabelValues(event).Inc()
}

func (m *Metrics) Receipt() {
	if m == nil {
		return
	}
	m.ReadReceipts.Inc()
}

func (m *Metrics) Terminated() {
	if m == nil {
		return
	}
	m.Terminations.Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingMessages.Set(float64(n))
}

func (m *Metrics) SetConnState(s chat.ConnState) {
	if m == nil {
		return
	}
	var v float64
	switch s {
	case chat.ConnConnecting:
		v = 1
	case chat.ConnConnected:
		v = 2
	}
	m.ConnectionState.Set(v)
}

func (m *Metrics) SetTypingPeers(n int) {
	if m == nil {
		return
	}
	m.TypingPeers.Set(float64(n))
}
