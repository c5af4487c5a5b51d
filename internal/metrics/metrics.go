package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dogechat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dogechat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dogechat_connections",
			Help: "Open client connections",
		},
	)

	Rooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dogechat_rooms",
			Help: "Rooms currently held in memory",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dogechat_events_received_total",
			Help: "Inbound client events",
		},
		[]string{"type"},
	)

	DroppedSends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dogechat_dropped_sends_total",
			Help: "Outbound events dropped because a connection queue was full",
		},
	)

	// Business metrics
	MessagesBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dogechat_messages_broadcast_total",
			Help: "Room-visible entries broadcast",
		},
		[]string{"kind"}, // chat, image, system, agent
	)

	DirectMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dogechat_direct_messages_total",
			Help: "Direct messages delivered",
		},
	)

	Notices = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dogechat_notices_total",
			Help: "Private system notices sent",
		},
	)

	HistoryEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dogechat_history_evictions_total",
			Help: "History entries evicted by the ring buffer",
		},
	)

	MutedRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dogechat_muted_rejections_total",
			Help: "Events rejected because the sender is muted",
		},
	)

	ModerationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dogechat_moderation_actions_total",
			Help: "Moderation actions applied",
		},
		[]string{"action"},
	)

	// Agent metrics
	AgentRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dogechat_agent_requests_total",
			Help: "Agent requests by outcome",
		},
		[]string{"outcome"}, // audio, text_only, failed, offline
	)

	AgentInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dogechat_agent_in_flight",
			Help: "Agent requests waiting on external services",
		},
	)

	AgentLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dogechat_agent_latency_seconds",
			Help:    "Time from accepted agent request to reply or failure",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30},
		},
	)

	// Audit metrics
	AuditWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dogechat_audit_writes_total",
			Help: "Moderation audit rows written",
		},
		[]string{"result"}, // ok, error, dropped
	)
)
