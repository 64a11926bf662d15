package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics for production monitoring
var (
	// Analysis cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_cycles_total",
			Help: "Total number of analysis cycles run",
		},
		[]string{"trigger", "status"}, // trigger: scheduled/manual
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driftwatch_cycle_duration_seconds",
			Help:    "Full analysis cycle duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	AgentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driftwatch_agent_duration_seconds",
			Help:    "Per-agent analysis duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"agent"},
	)

	// Detection metrics
	AgentAnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_agent_anomalies_total",
			Help: "Raw anomalies emitted by each agent before consensus",
		},
		[]string{"agent"},
	)

	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_reports_total",
			Help: "Consensus-backed anomaly reports by severity",
		},
		[]string{"severity"},
	)

	PointsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_points_ingested_total",
			Help: "Data points accepted into the pipeline",
		},
		[]string{"source"},
	)

	// Knowledge graph metrics
	GraphNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftwatch_graph_nodes",
			Help: "Current node count of the knowledge graph",
		},
	)

	GraphEdges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftwatch_graph_edges",
			Help: "Current edge count of the knowledge graph",
		},
	)

	// Data source metrics
	SourceFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_source_fetches_total",
			Help: "Source fetch attempts by outcome",
		},
		[]string{"source", "outcome"}, // outcome: fetched/cached/rate_limited/error
	)

	SourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driftwatch_source_fetch_duration_seconds",
			Help:    "Upstream fetch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"source"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftwatch_websocket_connections",
			Help: "Current number of connected WebSocket clients",
		},
	)

	WebSocketMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftwatch_websocket_messages_sent_total",
			Help: "Analysis results pushed to WebSocket clients",
		},
	)

	WebSocketMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftwatch_websocket_messages_dropped_total",
			Help: "Results dropped for slow WebSocket clients",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_http_requests_total",
			Help: "HTTP requests by path and status code",
		},
		[]string{"path", "code"},
	)

	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftwatch_http_rate_limit_rejections_total",
			Help: "HTTP requests rejected by the rate limiter",
		},
	)
)
