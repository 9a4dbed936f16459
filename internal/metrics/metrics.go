// Package metrics exposes Prometheus collectors for a chat session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "chat").
	Namespace string

	// Subsystem is the metrics subsystem (default: "session").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is where collectors are registered.
	// Default: a fresh registry, so several sessions can live in one process.
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds the session collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	stateTransitions  *prometheus.CounterVec
	connected         prometheus.Gauge
	reconnectAttempts prometheus.Counter
	inboundEvents     *prometheus.CounterVec
	outboundEvents    *prometheus.CounterVec
	droppedCommands   *prometheus.CounterVec
}

// New registers the collectors.
func New(opts ...Option) *Metrics {
	config := Config{
		Namespace: "chat",
		Subsystem: "session",
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "state_transitions_total",
			Help:        "Connection state transitions by target state",
			ConstLabels: config.ConstLabels,
		}, []string{"to"}),

		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connected",
			Help:        "1 while the transport is open",
			ConstLabels: config.ConstLabels,
		}),

		reconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnect_attempts_total",
			Help:        "Automatic reconnection dials",
			ConstLabels: config.ConstLabels,
		}),

		inboundEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "inbound_events_total",
			Help:        "Events received from the server",
			ConstLabels: config.ConstLabels,
		}, []string{"event"}),

		outboundEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "outbound_events_total",
			Help:        "Events written to the server",
			ConstLabels: config.ConstLabels,
		}, []string{"event"}),

		droppedCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dropped_commands_total",
			Help:        "Outbound events dropped because the transport was not open",
			ConstLabels: config.ConstLabels,
		}, []string{"event"}),
	}
}

// StateChanged records a transition to state.
func (m *Metrics) StateChanged(state string, connected bool) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(state).Inc()
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// ReconnectAttempt records one automatic reconnection dial.
func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

// Inbound records a received event.
func (m *Metrics) Inbound(event string) {
	if m == nil {
		return
	}
	m.inboundEvents.WithLabelValues(event).Inc()
}

// Outbound records a written event.
func (m *Metrics) Outbound(event string) {
	if m == nil {
		return
	}
	m.outboundEvents.WithLabelValues(event).Inc()
}

// Dropped records an outbound event that was discarded.
func (m *Metrics) Dropped(event string) {
	if m == nil {
		return
	}
	m.droppedCommands.WithLabelValues(event).Inc()
}
