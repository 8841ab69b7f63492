package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	chatConnectionsTotal   prometheus.Counter
	chatMessagesTotal      *prometheus.CounterVec
	chatRateLimited        prometheus.Counter
	chatBroadcastsTotal    *prometheus.CounterVec
	presenceOnline         prometheus.Gauge
	notificationsDecided   *prometheus.CounterVec
	notificationsDelivered *prometheus.CounterVec
	roomSweepDeleted       *prometheus.CounterVec
	httpRequestsTotal      *prometheus.CounterVec
	httpLatencySeconds     *prometheus.HistogramVec
	httpErrorsTotal        *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors for the chat core.
func RegisterMetrics() {
	registerOnce.Do(func() {
		chatConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_connections_total",
			Help: "Total number of websocket chat connections accepted.",
		})

		chatMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total number of chat messages appended, by message kind.",
		}, []string{"kind"})

		chatRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_rate_limited_total",
			Help: "Total number of sends rejected by the per-user rate limiter.",
		})

		chatBroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_broadcasts_total",
			Help: "Total number of frames fanned out to room members, by event.",
		}, []string{"event"})

		presenceOnline = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_presence_online_users",
			Help: "Number of users currently tracked as online.",
		})

		notificationsDecided = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_notifications_decided_total",
			Help: "Notification dispatch decisions, by outcome.",
		}, []string{"outcome"})

		notificationsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_notifications_delivered_total",
			Help: "Push notifications handed to the provider, by result.",
		}, []string{"result"})

		roomSweepDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_room_sweep_deleted_total",
			Help: "Rooms removed by cleanup sweeps, by sweep kind.",
		}, []string{"sweep"})

		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests served, by method, route and status.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "API request latency in seconds, by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "API requests completed with a 4xx or 5xx status.",
		}, []string{"method", "route", "status"})

		prometheus.MustRegister(
			chatConnectionsTotal,
			chatMessagesTotal,
			chatRateLimited,
			chatBroadcastsTotal,
			presenceOnline,
			notificationsDecided,
			notificationsDelivered,
			roomSweepDeleted,
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
		)
	})
}

// ChatConnections exposes the websocket connection counter.
func ChatConnections() prometheus.Counter {
	RegisterMetrics()
	return chatConnectionsTotal
}

// ChatMessages exposes the per-kind message counter.
func ChatMessages() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesTotal
}

// ChatRateLimited exposes the rejected-send counter.
func ChatRateLimited() prometheus.Counter {
	RegisterMetrics()
	return chatRateLimited
}

// ChatBroadcasts exposes the fan-out counter.
func ChatBroadcasts() *prometheus.CounterVec {
	RegisterMetrics()
	return chatBroadcastsTotal
}

// PresenceOnlineUsers exposes the online-user gauge.
func PresenceOnlineUsers() prometheus.Gauge {
	RegisterMetrics()
	return presenceOnline
}

// NotificationsDecided exposes the dispatch-decision counter.
func NotificationsDecided() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsDecided
}

// NotificationsDelivered exposes the delivery-result counter.
func NotificationsDelivered() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsDelivered
}

// RoomSweepDeleted exposes the cleanup sweep counter.
func RoomSweepDeleted() *prometheus.CounterVec {
	RegisterMetrics()
	return roomSweepDeleted
}

// HTTPRequests exposes the per-route request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the per-route latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the per-route error counter.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}
