// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MessagesTotal tracks appended messages by final status after the
	// delivery-promotion step.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages appended",
		},
		[]string{"status"},
	)

	// DeliveryPromotions tracks sent->delivered promotions by outcome.
	DeliveryPromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_delivery_promotions_total",
			Help: "Delivery promotions attempted after append",
		},
		[]string{"outcome"},
	)

	// ChatRequestsTotal tracks chat request lifecycle outcomes.
	ChatRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Chat request lifecycle events",
		},
		[]string{"outcome"},
	)

	// SendRejections tracks sends refused before persistence.
	SendRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_send_rejections_total",
			Help: "Message sends refused before persistence",
		},
		[]string{"reason"},
	)

	// WSConnectionsActive tracks active push-channel connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	// OnlineUsers tracks the size of the presence registry.
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_online_users",
			Help: "Identities currently registered as online",
		},
	)

	// BroadcastErrors tracks failed NATS publishes.
	BroadcastErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_errors_total",
			Help: "Failed event broadcasts",
		},
		[]string{"subject_class"},
	)

	// StoreOpDuration tracks chat store operation latency.
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_store_op_duration_seconds",
			Help:    "Chat store operation duration in seconds",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementWSConnections increments the active connection count.
func IncrementWSConnections() {
	WSConnectionsActive.Inc()
}

// DecrementWSConnections decrements the active connection count.
func DecrementWSConnections() {
	WSConnectionsActive.Dec()
}
