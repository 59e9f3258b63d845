package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadline_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadline_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Room metrics
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadline_rooms_active",
			Help: "Currently live meeting rooms",
		},
	)

	ParticipantsJoined = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadline_participants_joined_total",
			Help: "Total room joins",
		},
		[]string{"kind"}, // "human" or "ai"
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadline_ws_connections",
			Help: "Open signaling websocket connections",
		},
	)

	MessagesBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadline_messages_broadcast_total",
			Help: "Total frames broadcast to rooms",
		},
		[]string{"type"},
	)

	InvalidFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadline_invalid_frames_total",
			Help: "Malformed signaling frames answered with an error reply",
		},
	)

	// Conversation metrics
	ConversationsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadline_conversations_started_total",
			Help: "Discovery conversations started",
		},
	)

	ConversationsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadline_conversations_completed_total",
			Help: "Discovery conversations completed",
		},
	)

	SilencePrompts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadline_silence_prompts_total",
			Help: "Re-prompts emitted after silence timeouts",
		},
	)

	SchedulingTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadline_scheduling_timeouts_total",
			Help: "Agent auto-joins abandoned because no humans arrived",
		},
	)

	CollaboratorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadline_collaborator_failures_total",
			Help: "External collaborator failures absorbed by fallbacks",
		},
		[]string{"collaborator"}, // "questions", "analysis", "persistence", "notification", "tts"
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadline_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadline_postgres_latency_seconds",
			Help:    "Database query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
