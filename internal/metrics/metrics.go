package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the dice arena realtime backbone.
//
// Naming convention: namespace_subsystem_name
// - namespace: dice_arena (application-level grouping)
// - subsystem: websocket, room, lobby, redis, rate_limit, circuit_breaker
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: current state (connections, rooms, players)
// - Counter: cumulative events (messages processed, errors)
// - Histogram: latency distributions (processing time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dice_arena",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dice_arena",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomPlayers tracks the number of players seated in each room.
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dice_arena",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of seated players in each room",
	}, []string{"room_code"})

	// WebsocketEvents tracks the total number of WebSocket events processed.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dice_arena",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent processing WebSocket messages.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dice_arena",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// GamesStarted tracks the total number of games that transitioned out of waiting.
	GamesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dice_arena",
		Subsystem: "room",
		Name:      "games_started_total",
		Help:      "Total number of games started",
	})

	// GamesCompleted tracks the total number of games that reached game_over.
	GamesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dice_arena",
		Subsystem: "room",
		Name:      "games_completed_total",
		Help:      "Total number of games that reached game_over",
	})

	// AlarmsScheduled tracks scheduled alarms by kind.
	AlarmsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dice_arena",
		Subsystem: "room",
		Name:      "alarms_scheduled_total",
		Help:      "Total number of alarms scheduled, by kind",
	}, []string{"kind"})

	// AlarmsFired tracks alarms that actually fired (not cancelled/superseded).
	AlarmsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dice_arena",
		Subsystem: "room",
		Name:      "alarms_fired_total",
		Help:      "Total number of alarms that fired, by kind",
	}, []string{"kind"})

	// LobbyOnlineCount tracks the current number of connected lobby sessions.
	LobbyOnlineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dice_arena",
		Subsystem: "lobby",
		Name:      "online_count",
		Help:      "Current number of connected lobby sessions",
	})

	// CircuitBreakerState tracks the current state of the circuit breaker.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dice_arena",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by the circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dice_arena",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests that exceeded the rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dice_arena",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks the total number of requests checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dice_arena",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal tracks the total number of Redis operations.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dice_arena",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dice_arena",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
