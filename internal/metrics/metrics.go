package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_connections_active",
			Help: "Currently connected websocket sessions",
		},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total inbound websocket events",
		},
		[]string{"event"},
	)

	EventErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_event_errors_total",
			Help: "Total scoped error events sent back to clients",
		},
		[]string{"where"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total messages persisted and broadcast",
		},
		[]string{"chat_type"}, // "private" or "group"
	)

	MessageUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_message_updates_total",
			Help: "Total message mutations re-broadcast",
		},
		[]string{"op"},
	)

	CallsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_calls_started_total",
			Help: "Total call sessions created",
		},
	)

	CallsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_calls_active",
			Help: "Call sessions currently ringing or active",
		},
	)

	BusPublishLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_bus_publish_latency_seconds",
			Help:    "Broadcast bus publish latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
