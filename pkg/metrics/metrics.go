package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Batch/position metrics
	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posloader_batches_total",
			Help: "Total number of batches by final status",
		},
		[]string{"status"},
	)

	PositionsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posloader_positions_loaded_total",
			Help: "Total number of position rows written by source",
		},
		[]string{"source"},
	)

	ActiveBatchesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posloader_active_batches",
			Help: "Number of accounts currently holding an ACTIVE batch",
		},
	)

	// EOD engine metrics
	EodRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "posloader_eod_run_duration_seconds",
			Help:    "Time to process a single account's EOD run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	EodRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posloader_eod_runs_total",
			Help: "Total EOD runs by outcome",
		},
		[]string{"outcome"},
	)

	// Upstream client metrics
	UpstreamRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "posloader_upstream_request_duration_seconds",
			Help:    "Upstream snapshot fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posloader_upstream_requests_total",
			Help: "Total upstream requests by outcome",
		},
		[]string{"outcome"},
	)

	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posloader_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Orchestrator metrics
	OrchestratorRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "posloader_orchestrator_run_duration_seconds",
			Help:    "Time taken for a full parallel orchestration run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	OrchestratorAccountsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posloader_orchestrator_accounts_in_flight",
			Help: "Number of accounts currently being processed",
		},
	)

	// Validation metrics
	ValidationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posloader_validation_failures_total",
			Help: "Total validation failures by rule",
		},
		[]string{"rule"},
	)

	DuplicateSnapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "posloader_duplicate_snapshots_total",
			Help: "Total snapshots skipped as duplicates via content hash",
		},
	)

	// Bus / DLQ metrics
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posloader_events_published_total",
			Help: "Total events published by topic",
		},
		[]string{"topic"},
	)

	DLQDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "posloader_dlq_depth",
			Help: "Current depth of each topic's dead-letter queue",
		},
		[]string{"topic"},
	)

	DLQReplayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posloader_dlq_replayed_total",
			Help: "Total dead-letter queue replay batches, by outcome",
		},
		[]string{"topic", "outcome"},
	)

	// Reconciliation metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "posloader_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationDiffsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posloader_reconciliation_diffs_total",
			Help: "Total reconciliation diffs found by severity",
		},
		[]string{"severity"},
	)

	// Scheduler / leader election metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posloader_raft_is_leader",
			Help: "Whether this instance holds the scheduler leader lock (1 = leader, 0 = follower)",
		},
	)

	ScheduledJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "posloader_scheduled_job_duration_seconds",
			Help:    "Duration of a scheduled job run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)

func init() {
	prometheus.MustRegister(BatchesTotal)
	prometheus.MustRegister(PositionsLoaded)
	prometheus.MustRegister(ActiveBatchesGauge)
	prometheus.MustRegister(EodRunDuration)
	prometheus.MustRegister(EodRunsTotal)
	prometheus.MustRegister(UpstreamRequestDuration)
	prometheus.MustRegister(UpstreamRequestsTotal)
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(OrchestratorRunDuration)
	prometheus.MustRegister(OrchestratorAccountsInFlight)
	prometheus.MustRegister(ValidationFailuresTotal)
	prometheus.MustRegister(DuplicateSnapshotsTotal)
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(DLQDepth)
	prometheus.MustRegister(DLQReplayedTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationDiffsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(ScheduledJobDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
