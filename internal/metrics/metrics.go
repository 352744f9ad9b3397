package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub metrics
var (
	// HubConnectedClients tracks the number of registered client records
	HubConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connected_clients",
			Help: "Number of currently registered client records",
		},
	)

	// HubMessagesTotal tracks inbound client events by event name
	HubMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_messages_total",
			Help: "Total inbound client events by event name",
		},
		[]string{"event"},
	)

	// HubDeliveriesTotal tracks outbound deliveries by message family
	HubDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_deliveries_total",
			Help: "Total outbound deliveries by message family",
		},
		[]string{"family"},
	)

	// HubErrorsTotal tracks client-facing errors by code
	HubErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_errors_total",
			Help: "Total client-facing errors by code",
		},
		[]string{"code"},
	)

	// HubMetadataUpdatesTotal tracks successful setData merges
	HubMetadataUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_metadata_updates_total",
			Help: "Total successful metadata patch merges",
		},
	)

	// HubFollowedNoticesTotal tracks followed notices emitted to online targets
	HubFollowedNoticesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_followed_notices_total",
			Help: "Total followed notices emitted to online targets",
		},
	)

	// HubFanoutTruncationsTotal tracks notifications truncated by the follower cap
	HubFanoutTruncationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_fanout_truncations_total",
			Help: "Total notification fan-outs truncated by the follower cap",
		},
	)

	// HubRegistryViolationsTotal tracks registry invariant violations (programming defects)
	HubRegistryViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_registry_violations_total",
			Help: "Total registry invariant violations logged and skipped",
		},
	)

	// HubPanicsTotal tracks panics recovered in the hub command loop
	HubPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_panics_total",
			Help: "Total panics recovered in the hub command loop",
		},
	)
)

// Heartbeat metrics
var (
	// HubHeartbeatsSentTotal tracks heartbeat challenges sent
	HubHeartbeatsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_heartbeats_sent_total",
			Help: "Total heartbeat challenges sent to clients",
		},
	)

	// HubHeartbeatsMissedTotal tracks beats that expired unanswered
	HubHeartbeatsMissedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_heartbeats_missed_total",
			Help: "Total heartbeat deadlines that expired unanswered",
		},
	)

	// HubHeartbeatTimeoutsTotal tracks clients removed for missing too many beats
	HubHeartbeatTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_heartbeat_timeouts_total",
			Help: "Total clients removed after exceeding the missed-beat threshold",
		},
	)
)

// WebSocket transport metrics
var (
	// WebSocketConnectionsTotal tracks total accepted websocket connections
	WebSocketConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Total accepted WebSocket connections",
		},
	)

	// WebSocketConnectionsRejected tracks upgrades rejected by connection limits
	WebSocketConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_rejected_total",
			Help: "Total WebSocket upgrades rejected, by limit reason",
		},
		[]string{"reason"},
	)

	// WebSocketSlowDropsTotal tracks outbound events dropped on full client buffers
	WebSocketSlowDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_slow_drops_total",
			Help: "Total outbound events dropped because a client buffer was full",
		},
	)

	// WebSocketRateLimitedTotal tracks inbound messages dropped by the rate limiter
	WebSocketRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_rate_limited_total",
			Help: "Total inbound messages dropped by the per-connection rate limiter",
		},
	)

	// WebSocketPingFailures tracks transport-level ping write failures
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total WebSocket ping failures (client likely disconnected)",
		},
	)
)

// Certificate reload metrics
var (
	// CertReloadsTotal tracks certificate hot-reloads by status
	CertReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cert_reloads_total",
			Help: "Total TLS certificate reloads by status",
		},
		[]string{"status"},
	)
)
