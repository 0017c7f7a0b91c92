/*
Package metrics defines and registers every Prometheus metric the position
loader exposes, plus a small Timer helper for recording operation duration.
Metrics are registered at package init and served over HTTP for scraping.

# Metrics catalog

Batch/position:
  - posloader_batches_total{status}: batches reaching a final status
  - posloader_positions_loaded_total{source}: position rows written, by source
  - posloader_active_batches: accounts currently holding an ACTIVE batch

EOD engine:
  - posloader_eod_run_duration_seconds{outcome}: per-account EOD run time
  - posloader_eod_runs_total{outcome}: EOD runs by outcome

Upstream client:
  - posloader_upstream_request_duration_seconds: snapshot fetch latency
  - posloader_upstream_requests_total{outcome}: upstream requests by outcome
  - posloader_circuit_breaker_state: 0=closed, 1=half-open, 2=open

Orchestrator:
  - posloader_orchestrator_run_duration_seconds: full parallel run duration
  - posloader_orchestrator_accounts_in_flight: accounts currently processing

Validation:
  - posloader_validation_failures_total{rule}: validation findings by rule
  - posloader_duplicate_snapshots_total: snapshots skipped via content hash

Bus/DLQ:
  - posloader_events_published_total{topic}: events published
  - posloader_dlq_depth{topic}: current dead-letter queue depth
  - posloader_dlq_replayed_total{topic, outcome}: DLQ replay attempts

Reconciliation:
  - posloader_reconciliation_duration_seconds: reconciliation cycle time
  - posloader_reconciliation_diffs_total{severity}: diffs found by severity

Scheduler/leader election:
  - posloader_raft_is_leader: whether this instance holds the job lock
  - posloader_scheduled_job_duration_seconds{job}: scheduled job run time

# Usage

	timer := metrics.NewTimer()
	result, err := engine.ProcessEod(ctx, accountID, businessDate)
	timer.ObserveDurationVec(metrics.EodRunDuration, outcome)
	metrics.EodRunsTotal.WithLabelValues(outcome).Inc()

The HTTP handler is mounted once by cmd/posloader at /metrics:

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
