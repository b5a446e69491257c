// Package metrics exposes the hub's Prometheus collectors.
//
// All methods are safe on a nil *Metrics so components can run without a
// registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicehub"

// Frame delivery outcomes.
const (
	OutcomeRelayed = "relayed"
	OutcomeDropped = "dropped"
)

// Call outcomes.
const (
	CallBusy         = "busy"
	CallOffline      = "offline"
	CallRejected     = "rejected"
	CallEnded        = "ended"
	CallDisconnected = "disconnected"
)

// Metrics groups every collector the hub updates.
type Metrics struct {
	connections    *prometheus.GaugeVec
	messages       *prometheus.CounterVec
	protocolErrors *prometheus.CounterVec
	frames         *prometheus.CounterVec
	rooms          prometheus.Gauge
	calls          prometheus.Gauge
	callOutcomes   *prometheus.CounterVec
	callDuration   prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open WebSocket connections by channel.",
		}, []string{"channel"}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages by channel and kind.",
		}, []string{"channel", "kind"}),
		protocolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Malformed or rejected inbound messages by channel.",
		}, []string{"channel"}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Relayed media frame deliveries by kind and outcome.",
		}, []string{"kind", "outcome"}),
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms with at least one member.",
		}),
		calls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Calls that are ringing or connected.",
		}),
		callOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_outcomes_total",
			Help:      "Call requests and terminations by outcome.",
		}, []string{"outcome"}),
		callDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of connected calls.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
	}
}

// Handler serves the collectors registered on g in the text exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened(channel string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(channel).Inc()
}

func (m *Metrics) ConnectionClosed(channel string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(channel).Dec()
}

func (m *Metrics) MessageReceived(channel, kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(channel, kind).Inc()
}

func (m *Metrics) ProtocolError(channel string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(channel).Inc()
}

// Frame records one delivery attempt of an audio or screen frame.
func (m *Metrics) Frame(kind string, delivered bool) {
	if m == nil {
		return
	}
	outcome := OutcomeRelayed
	if !delivered {
		outcome = OutcomeDropped
	}
	m.frames.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) RoomOpened() {
	if m == nil {
		return
	}
	m.rooms.Inc()
}

func (m *Metrics) RoomClosed() {
	if m == nil {
		return
	}
	m.rooms.Dec()
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.calls.Inc()
}

// CallFinished records a call leaving the active set. connected is zero for
// calls that never got past ringing.
func (m *Metrics) CallFinished(outcome string, connected time.Duration) {
	if m == nil {
		return
	}
	m.calls.Dec()
	m.callOutcomes.WithLabelValues(outcome).Inc()
	if connected > 0 {
		m.callDuration.Observe(connected.Seconds())
	}
}

// CallRefused records a request that never created a call.
func (m *Metrics) CallRefused(outcome string) {
	if m == nil {
		return
	}
	m.callOutcomes.WithLabelValues(outcome).Inc()
}
