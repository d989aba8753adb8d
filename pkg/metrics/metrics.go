// Package metrics provides Prometheus metrics for the yarrow service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsSubmitted tracks safety check requests written to the store by source
	RequestsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "intake",
			Name:      "requests_total",
			Help:      "Total number of safety check requests queued",
		},
		[]string{"source", "status"},
	)

	// EventsProcessed tracks change events by outcome
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "dispatcher",
			Name:      "events_total",
			Help:      "Total number of change events handled by outcome",
		},
		[]string{"kind", "outcome"},
	)

	// EventsInFlight tracks events currently being handled
	EventsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "yarrow",
			Subsystem: "dispatcher",
			Name:      "events_in_flight",
			Help:      "Number of change events currently being handled",
		},
	)

	// DeadLettersTotal tracks events sent to the dead letter stream
	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "dispatcher",
			Name:      "dead_letters_total",
			Help:      "Total number of change events dead-lettered",
		},
		[]string{"reason"},
	)

	// AgentInvocationDuration tracks agent call latency in seconds
	AgentInvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "yarrow",
			Subsystem: "agent",
			Name:      "invocation_duration_seconds",
			Help:      "Duration of reasoning agent invocations in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90, 120, 180},
		},
		[]string{"status"},
	)

	// SchedulerRuns tracks bulk scheduler batches by outcome
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Total number of bulk scheduler runs by outcome",
		},
		[]string{"outcome"},
	)

	// SchedulerWorkOrders tracks work orders visited by the scheduler
	SchedulerWorkOrders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "scheduler",
			Name:      "work_orders_total",
			Help:      "Total number of work orders visited by the scheduler",
		},
		[]string{"outcome"},
	)

	// RequestsPruned tracks expired requests deleted by the TTL sweep
	RequestsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "scheduler",
			Name:      "requests_pruned_total",
			Help:      "Total number of expired safety check requests deleted",
		},
	)

	// NotificationsSent tracks completion notifications per channel
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Total number of completion notifications by channel and status",
		},
		[]string{"channel", "status"},
	)

	// WebSocketConnections tracks open WebSocket connections on this replica
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "yarrow",
			Subsystem: "notify",
			Name:      "websocket_connections",
			Help:      "Number of open WebSocket connections",
		},
	)

	// AggregationsTotal tracks hazard aggregation calls by outcome
	AggregationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "aggregator",
			Name:      "aggregations_total",
			Help:      "Total number of hazard aggregations by outcome",
		},
		[]string{"outcome"},
	)
)
