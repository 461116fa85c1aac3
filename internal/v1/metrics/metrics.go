package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the pusher gateway.
//
// Naming convention: namespace_subsystem_name
// - namespace: pusher (application-level grouping)
// - subsystem: websocket, room, space, back, batch, admin, ratelimit
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, spaces, streams)
// - Counter: Cumulative events (messages forwarded, errors, expiries)
// - Histogram: Latency distributions (processing time)

var (
	// ActiveWebSocketConnections tracks the current number of active front connections (Gauge - current state)
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pusher",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of rooms with at least one client (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pusher",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomClients tracks the number of clients in each room (GaugeVec with room_id label - current state per room)
	RoomClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pusher",
		Subsystem: "room",
		Name:      "clients_count",
		Help:      "Number of connected clients in each room",
	}, []string{"room_id"})

	// ActiveSpaces tracks the current number of joined spaces (Gauge - current state)
	ActiveSpaces = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pusher",
		Subsystem: "space",
		Name:      "spaces_active",
		Help:      "Current number of active spaces",
	})

	// BackStreams tracks the open gRPC streams per kind (GaugeVec - current state)
	BackStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pusher",
		Subsystem: "back",
		Name:      "streams_active",
		Help:      "Open gRPC streams to back servers by kind",
	}, []string{"kind"})

	// WatchdogExpirations counts space stream teardowns caused by a missed ping (CounterVec - cumulative)
	WatchdogExpirations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pusher",
		Subsystem: "back",
		Name:      "watchdog_expirations_total",
		Help:      "Space stream teardowns caused by the ping watchdog",
	}, []string{"back_id"})

	// WebsocketEvents tracks the total number of front WebSocket events processed (CounterVec - cumulative)
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pusher",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent processing front messages (HistogramVec - latency distribution)
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pusher",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// BatchFlushes counts emitter flushes by trigger (CounterVec - cumulative)
	BatchFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pusher",
		Subsystem: "batch",
		Name:      "flushes_total",
		Help:      "Batch emitter flushes by trigger",
	}, []string{"reason"})

	// BatchedMessages counts sub-messages delivered through batch frames (Counter - cumulative)
	BatchedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pusher",
		Subsystem: "batch",
		Name:      "messages_total",
		Help:      "Sub-messages delivered inside batch frames",
	})

	// CircuitBreakerState exposes the breaker state per downstream service (GaugeVec: 0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pusher",
		Subsystem: "admin",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per service (0=closed, 1=half-open, 2=open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts requests rejected or failed under the breaker (CounterVec - cumulative)
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pusher",
		Subsystem: "admin",
		Name:      "circuit_breaker_failures_total",
		Help:      "Circuit breaker failures per service",
	}, []string{"service"})

	// AdminAPIRequests counts admin REST calls by operation and outcome (CounterVec - cumulative)
	AdminAPIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pusher",
		Subsystem: "admin",
		Name:      "api_requests_total",
		Help:      "Admin REST requests by operation and status",
	}, []string{"operation", "status"})

	// EmbedProbes counts embeddable-URL probe outcomes (CounterVec - cumulative)
	EmbedProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pusher",
		Subsystem: "admin",
		Name:      "embed_probes_total",
		Help:      "Embeddable website probe outcomes",
	}, []string{"outcome"})

	// RateLimitExceeded counts requests rejected by a limiter (CounterVec - cumulative)
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pusher",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Requests rejected by rate limiting",
	}, []string{"endpoint", "limit_type"})

	// RateLimitRequests counts requests that passed a limiter (CounterVec - cumulative)
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pusher",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Requests admitted by rate limiting",
	}, []string{"endpoint"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
