package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomcast_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Session metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomcast_active_sessions",
			Help: "Connection sessions currently attached to a room",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_sessions_closed_total",
			Help: "Closed sessions by websocket close code",
		},
		[]string{"code"},
	)

	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_inbound_events_total",
			Help: "Client events received by type and outcome",
		},
		[]string{"type", "outcome"}, // outcome: "ok", "error", "throttled"
	)

	// Hub metrics
	Broadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_hub_broadcasts_total",
			Help: "Events submitted to the hub",
		},
	)

	DroppedDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_hub_dropped_total",
			Help: "Events dropped because a queue was full",
		},
		[]string{"queue"}, // "room" or "subscriber"
	)

	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomcast_hub_active_rooms",
			Help: "Rooms with at least one subscriber",
		},
	)

	// Business metrics
	MessagesAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_messages_appended_total",
			Help: "Total messages appended",
		},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_status_transitions_total",
			Help: "Forward status transitions by target status",
		},
		[]string{"status"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roomcast_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomcast_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"op"},
	)
)

// ObserveStore records the latency of a store operation started at start.
// Intended for defer.
func ObserveStore(op string, start time.Time) {
	StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
