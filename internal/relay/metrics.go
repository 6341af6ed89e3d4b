package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Number of active relay WebSocket connections",
		},
	)

	roomsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_rooms",
			Help: "Number of rooms with at least one connected client",
		},
	)

	messagesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Total number of signaling messages relayed",
		},
		[]string{"type"},
	)

	rejectedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_connections_rejected_total",
			Help: "Total number of connections rejected at capacity",
		},
	)
)
