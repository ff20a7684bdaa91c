package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LMTP ingestion metrics
var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailman_connections_total",
			Help: "Total number of LMTP connections established",
		},
		[]string{"protocol"},
	)

	ConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailman_connections_current",
			Help: "Current number of active LMTP connections",
		},
		[]string{"protocol"},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailman_commands_total",
			Help: "Total number of protocol commands processed",
		},
		[]string{"protocol", "command", "status"},
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailman_command_duration_seconds",
			Help:    "Duration of protocol commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol", "command"},
	)

	MessageSizeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailman_message_size_bytes",
			Help:    "Size of accepted messages in bytes",
			Buckets: []float64{1024, 10240, 102400, 1048576, 10485760, 104857600},
		},
		[]string{"protocol"},
	)
)

// Queue metrics
var (
	QueueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailman_queue_operations_total",
			Help: "Total number of queue operations",
		},
		[]string{"queue", "operation", "status"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailman_queue_depth",
			Help: "Number of entries per queue and state",
		},
		[]string{"queue", "state"},
	)

	QueueEntryAge = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailman_queue_entry_age_seconds",
			Help:    "Age of queue entries at claim time",
			Buckets: []float64{0.1, 1, 10, 60, 300, 1800, 3600, 86400},
		},
		[]string{"queue"},
	)
)

// Pipeline metrics
var (
	HandlerResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailman_pipeline_handler_results_total",
			Help: "Per-handler pipeline outcomes",
		},
		[]string{"queue", "handler", "result"},
	)

	EntriesShunted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailman_pipeline_entries_shunted_total",
			Help: "Entries moved to the shunt queue after a handler failure",
		},
		[]string{"queue", "handler"},
	)
)

// Delivery and notification metrics
var (
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailman_deliveries_total",
			Help: "External transport invocations by outcome",
		},
		[]string{"status"},
	)

	DeliveryRecipients = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailman_delivery_recipients",
			Help:    "Recipient batch size per transport invocation",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"mode"},
	)

	ArchiverRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailman_archiver_runs_total",
			Help: "External archiver invocations by outcome",
		},
		[]string{"archiver", "status"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailman_notifications_total",
			Help: "Rendered member notifications by kind",
		},
		[]string{"kind"},
	)
)

// Membership metrics
var (
	MembershipChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailman_membership_changes_total",
			Help: "Membership mutations by operation and outcome",
		},
		[]string{"list", "operation", "status"},
	)
)
