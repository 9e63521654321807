package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Offer handling
	OffersReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_offers_received_total",
			Help: "Total number of resource offers received from the resource manager",
		},
	)

	OffersDeclinedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_offers_declined_total",
			Help: "Total number of times an eligible job with no running task received no assignment in an offer round",
		},
	)

	// Task lifecycle
	TasksLaunchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_tasks_launched_total",
			Help: "Total number of tasks launched, by execution type",
		},
		[]string{"execution_type"},
	)

	TasksScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_tasks_scheduled_total",
			Help: "Total number of tasks successfully matched to an offer",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_tasks_failed_total",
			Help: "Total number of tasks that terminated in LOST, FAILED or ERROR",
		},
	)

	FailoverTasksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_failover_tasks_total",
			Help: "Total number of tasks recorded for failover",
		},
	)

	IntegrityViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_sharding_integrity_violations_total",
			Help: "Total number of jobs held back from an offer round for violating sharding integrity",
		},
	)

	// Queue depth / daemon status gauges, sampled by Collector
	RunningTasksGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_running_tasks",
			Help: "Current number of tasks in the running set",
		},
	)

	ReadyQueueGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_ready_queue_length",
			Help: "Current number of entries in the ready queue",
		},
	)

	FailoverQueueGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_failover_queue_length",
			Help: "Current number of tasks pending failover re-launch",
		},
	)

	DaemonIdleGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_daemon_jobs_idle",
			Help: "Current number of DAEMON tasks whose latest status update reported idle",
		},
	)

	// Assignment timing
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_scheduling_latency_seconds",
			Help:    "Time taken to handle one resourceOffers call, from assignment through launch",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		OffersReceivedTotal,
		OffersDeclinedTotal,
		TasksLaunchedTotal,
		TasksScheduled,
		TasksFailed,
		FailoverTasksTotal,
		IntegrityViolationsTotal,
		RunningTasksGauge,
		ReadyQueueGauge,
		FailoverQueueGauge,
		DaemonIdleGauge,
		SchedulingLatency,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
