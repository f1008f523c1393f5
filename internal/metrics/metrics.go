// Package metrics exposes prometheus collectors of the signaling server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "callbridge").
	Namespace string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

type Metrics struct {
	connections     prometheus.Gauge
	registeredUsers prometheus.Gauge
	activeSessions  prometheus.Gauge
	signalsRelayed  *prometheus.CounterVec
	relayFailures   *prometheus.CounterVec
	sessionsOpened  prometheus.Counter
	sessionsClosed  prometheus.Counter
}

func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "callbridge"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "connections",
			Help:      "Live signaling connections",
		}),
		registeredUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "registered_users",
			Help:      "Identities currently bound to a connection",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "active_sessions",
			Help:      "Call sessions with at least one participant",
		}),
		signalsRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "signals_relayed_total",
			Help:      "Signaling messages delivered to a target connection",
		}, []string{"type"}),
		relayFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "relay_failures_total",
			Help:      "Signaling messages that could not be delivered",
		}, []string{"reason"}),
		sessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "sessions_opened_total",
			Help:      "Call sessions created",
		}),
		sessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "sessions_closed_total",
			Help:      "Call sessions removed after the last participant left",
		}),
	}
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) SetRegisteredUsers(n int) {
	if m == nil {
		return
	}
	m.registeredUsers.Set(float64(n))
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) SignalRelayed(msgType string) {
	if m == nil {
		return
	}
	m.signalsRelayed.WithLabelValues(msgType).Inc()
}

func (m *Metrics) RelayFailed(reason string) {
	if m == nil {
		return
	}
	m.relayFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsClosed.Inc()
}
