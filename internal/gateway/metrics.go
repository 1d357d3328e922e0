// ABOUTME: Prometheus instrumentation for the websocket gateway
// ABOUTME: Exposed on the configurable metrics path when enabled

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "support_gateway",
		Name:      "connections_active",
		Help:      "Number of live websocket connections.",
	})

	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "support_gateway",
		Name:      "events_received_total",
		Help:      "Inbound websocket events by event name.",
	}, []string{"event"})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "support_gateway",
		Name:      "events_dropped_total",
		Help:      "Outbound events dropped because a connection's queue was full.",
	})

	roomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "support_gateway",
		Name:      "rooms_active",
		Help:      "Number of chat rooms with at least one member.",
	})
)
