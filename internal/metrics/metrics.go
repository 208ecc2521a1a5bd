// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pulse"

var (
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Authenticated connections currently open.",
	})

	HandshakeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handshake_failures_total",
		Help:      "Rejected connection attempts by reason.",
	}, []string{"code"})

	Rooms = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Rooms with at least one member, by kind.",
	}, []string{"kind"})

	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_events_total",
		Help:      "Client events handled, by type and result code.",
	}, []string{"type", "code"})

	Delivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fanout_delivered_total",
		Help:      "Frames queued to member connections by room fan-out.",
	})

	SlowConsumers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fanout_slow_consumers_total",
		Help:      "Deliveries that hit a full outbound queue.",
	})

	SignalsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_relayed_total",
		Help:      "Signaling envelopes relayed, by kind and routing.",
	}, []string{"kind", "route"})

	CollaboratorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collaborator_errors_total",
		Help:      "Failed calls to external collaborators, by operation.",
	}, []string{"op"})
)
