package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the realtime game backend.
//
// Naming convention: namespace_subsystem_name
// - namespace: ludoverse (application-level grouping)
// - subsystem: websocket, room, game, cache (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, sessions)
// - Counter: Cumulative events (messages dispatched, actions processed)
// - Histogram: Latency distributions (processing time)

var (
	// ActiveWebSocketConnections tracks the current number of live sockets
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ludoverse",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of rooms with live subscribers
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ludoverse",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms with live connections",
	})

	// ActiveGameSessions tracks the number of in-memory game sessions
	ActiveGameSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ludoverse",
		Subsystem: "game",
		Name:      "sessions_active",
		Help:      "Current number of active game sessions",
	})

	// MessagesDispatched counts dispatched WebSocket frames by type and outcome
	MessagesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ludoverse",
		Subsystem: "websocket",
		Name:      "messages_total",
		Help:      "Total WebSocket messages dispatched",
	}, []string{"message_type", "status"})

	// GameActionsProcessed counts engine actions by kind and outcome
	GameActionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ludoverse",
		Subsystem: "game",
		Name:      "actions_total",
		Help:      "Total game actions processed by the engine",
	}, []string{"kind", "status"})

	// MessageProcessingDuration tracks dispatcher latency per message type
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ludoverse",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"message_type"})

	// RateLimitExceeded counts rejected requests or frames by scope
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ludoverse",
		Subsystem: "websocket",
		Name:      "rate_limit_exceeded_total",
		Help:      "Requests or frames rejected by rate limiting",
	}, []string{"scope", "limit_type"})

	// CircuitBreakerState exposes breaker state per backend (0 closed, 1 open, 2 half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ludoverse",
		Subsystem: "cache",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per backend (0=closed, 1=open, 2=half-open)",
	}, []string{"backend"})

	// CircuitBreakerFailures counts requests rejected by an open breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ludoverse",
		Subsystem: "cache",
		Name:      "circuit_breaker_failures_total",
		Help:      "Requests rejected because the circuit breaker was open",
	}, []string{"backend"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
