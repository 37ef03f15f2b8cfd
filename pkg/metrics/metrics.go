package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Zone metrics
	ZonesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zoneweaver_zones_total",
			Help: "Total number of zones on this host by status",
		},
		[]string{"status"},
	)

	// Task engine metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zoneweaver_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	TasksExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoneweaver_tasks_executed_total",
			Help: "Total number of task executions by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	TaskRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zoneweaver_task_retries_total",
			Help: "Total number of task executions requeued after a retryable failure",
		},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zoneweaver_task_duration_seconds",
			Help:    "Task execution duration in seconds by operation",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"operation"},
	)

	// Session metrics
	ConsoleSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zoneweaver_console_sessions_active",
			Help: "Number of zone console sessions currently open",
		},
	)

	TerminalSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zoneweaver_terminal_sessions_active",
			Help: "Number of host terminal sessions currently open",
		},
	)

	VNCSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zoneweaver_vnc_sessions_active",
			Help: "Number of VNC proxy sessions currently open",
		},
	)

	ConsoleSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zoneweaver_console_subscribers",
			Help: "Number of live websocket subscribers across all console sessions",
		},
	)

	// Collector metrics
	CollectorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoneweaver_collector_failures_total",
			Help: "Total number of collection cycle failures by collector",
		},
		[]string{"collector"},
	)

	CollectorDisabled = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zoneweaver_collector_disabled",
			Help: "Whether a collector has disabled itself after repeated failures (1 = disabled)",
		},
		[]string{"collector"},
	)

	CollectorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zoneweaver_collector_scan_duration_seconds",
			Help:    "Collection cycle duration in seconds by collector",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collector"},
	)

	RetentionRowsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zoneweaver_retention_rows_pruned_total",
			Help: "Total number of metric rows removed by retention sweeps",
		},
	)

	// Reconciler metrics
	ReconcileCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zoneweaver_reconcile_cycles_total",
			Help: "Total number of zone discovery and session sweep cycles",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zoneweaver_reconcile_duration_seconds",
			Help:    "Zone discovery and session sweep cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoneweaver_api_requests_total",
			Help: "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zoneweaver_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ZonesTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksExecuted)
	prometheus.MustRegister(TaskRetries)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(ConsoleSessionsActive)
	prometheus.MustRegister(TerminalSessionsActive)
	prometheus.MustRegister(VNCSessionsActive)
	prometheus.MustRegister(ConsoleSubscribers)
	prometheus.MustRegister(CollectorFailures)
	prometheus.MustRegister(CollectorDisabled)
	prometheus.MustRegister(CollectorDuration)
	prometheus.MustRegister(RetentionRowsPruned)
	prometheus.MustRegister(ReconcileCycles)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
