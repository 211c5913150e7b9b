// Package metrics exposes Prometheus metrics for the chat service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skillsync_chat_active_connections",
			Help: "Number of open live channel connections",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skillsync_chat_online_users",
			Help: "Number of users registered in presence",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillsync_chat_events_received_total",
			Help: "Inbound live channel events by type",
		},
		[]string{"type"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillsync_chat_events_delivered_total",
			Help: "Outbound events queued to a live connection by type",
		},
		[]string{"type"},
	)

	// EventsDropped counts events addressed to users that were offline.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillsync_chat_events_dropped_total",
			Help: "Outbound events dropped because the recipient was offline",
		},
		[]string{"type"},
	)

	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillsync_chat_delivery_failures_total",
			Help: "Pushes that failed although the recipient was present",
		},
		[]string{"type"},
	)

	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillsync_chat_messages_persisted_total",
			Help: "Messages appended to conversations by kind",
		},
		[]string{"kind"},
	)

	MessageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillsync_chat_message_errors_total",
			Help: "message_error events sent to clients by error code",
		},
		[]string{"code"},
	)

	OfflinePushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillsync_chat_offline_pushes_total",
			Help: "Offline push notifications by result",
		},
		[]string{"result"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skillsync_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func RecordConnectionOpened() {
	ActiveConnections.Inc()
}

func RecordConnectionClosed() {
	ActiveConnections.Dec()
}

func RecordMessageError(code string) {
	if code == "" {
		code = "internal"
	}
	MessageErrors.WithLabelValues(code).Inc()
}
