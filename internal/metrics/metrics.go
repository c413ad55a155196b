// Package metrics holds the Prometheus collectors of the service.  They are
// registered on the default registry and exposed by promhttp on /metrics.
package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "realestate"

var (
	// WorkflowOps counts engine operations by name and outcome.
	WorkflowOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "operations_total",
			Help:      "Total number of workflow operations by outcome",
		},
		[]string{"op", "outcome"},
	)

	// WorkflowDuration observes the wall time of engine operations,
	// including retries.
	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "operation_duration_seconds",
			Help:      "Duration of workflow operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// WorkflowRetries counts transient failures that were retried.
	WorkflowRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "retries_total",
			Help:      "Total number of retried workflow attempts",
		},
		[]string{"op"},
	)

	// TicketCollisions counts enquiry ticket numbers that had to be regenerated.
	TicketCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "ticket_collisions_total",
			Help:      "Total number of enquiry ticket number collisions",
		},
	)

	// FavoriteDrift counts listings whose favorites counter had to be repaired.
	FavoriteDrift = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "favorite_drift_total",
			Help:      "Total number of favorites counters repaired by reconciliation",
		},
	)

	// OutboxDispatched counts notification events published per channel.
	OutboxDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "dispatched_total",
			Help:      "Total number of notification events published",
		},
		[]string{"channel"},
	)

	// OutboxDelivered counts delivery attempts by channel and outcome.
	OutboxDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "delivered_total",
			Help:      "Total number of notification deliveries by outcome",
		},
		[]string{"channel", "outcome"},
	)

	// HTTPRequests counts HTTP requests by method, route and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration observes HTTP request latency by method and route.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	dbOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "connections_open",
		Help:      "Number of open database connections",
	})
	dbInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "connections_in_use",
		Help:      "Number of database connections currently in use",
	})
	dbWaits = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "connection_waits",
		Help:      "Cumulative number of connection waits",
	})
)

// ObserveOp records the outcome and duration of a workflow operation.
func ObserveOp(op, outcome string, started time.Time) {
	WorkflowOps.WithLabelValues(op, outcome).Inc()
	WorkflowDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// RecordDBStats copies pool statistics into the db gauges.
func RecordDBStats(s sql.DBStats) {
	dbOpen.Set(float64(s.OpenConnections))
	dbInUse.Set(float64(s.InUse))
	dbWaits.Set(float64(s.WaitCount))
}
