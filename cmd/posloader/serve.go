package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerbase/posloader/pkg/config"
	"github.com/ledgerbase/posloader/pkg/dlqreplay"
	"github.com/ledgerbase/posloader/pkg/eventpublisher"
	"github.com/ledgerbase/posloader/pkg/health"
	"github.com/ledgerbase/posloader/pkg/log"
	"github.com/ledgerbase/posloader/pkg/metrics"
	"github.com/ledgerbase/posloader/pkg/orchestrator"
	"github.com/ledgerbase/posloader/pkg/positionstore"
	"github.com/ledgerbase/posloader/pkg/schedule"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the position loader daemon: scheduled EOD, reconciliation, and HTTP health/metrics endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		ctx := context.Background()

		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		logger := log.WithComponent("serve")

		group, err := schedule.Bootstrap(a.cfg.Raft)
		if err != nil {
			return fmt.Errorf("bootstrap leader election: %w", err)
		}
		defer group.Shutdown()

		calendar, err := schedule.NewCalendar(ctx, a.store)
		if err != nil {
			return fmt.Errorf("load holiday calendar: %w", err)
		}
		calendar.StartDailyRefresh(24 * time.Hour)
		defer calendar.Stop()

		a.reconciler.Start(time.Hour)
		defer a.reconciler.Stop()

		replayer := dlqreplay.New(a.msgBus, a.cfg.Bus.DLQMaxReplayBatch)

		purgeDay := time.Sunday
		runner := schedule.NewRunner(group, []schedule.Job{
			{
				Name:          "nightly-eod",
				Schedule:      schedule.DailyTime{Hour: 20, Minute: 0},
				LockAtMostFor: a.cfg.OrchestratorTimeout,
				Run: func(ctx context.Context) error {
					return runNightlyEod(ctx, a, calendar)
				},
			},
			{
				Name:          "reconcile-all",
				Schedule:      schedule.DailyTime{Hour: 21, Minute: 0},
				LockAtMostFor: 30 * time.Minute,
				Run: func(ctx context.Context) error {
					_, err := a.reconciler.ReconcileAll(ctx, time.Now())
					return err
				},
			},
			{
				Name:          "dlq-replay-position-changes",
				Schedule:      schedule.DailyTime{Hour: 6, Minute: 30},
				LockAtMostFor: 5 * time.Minute,
				Run: func(ctx context.Context) error {
					_, err := replayer.ReplayTopic(ctx, eventpublisher.TopicPositionChanges)
					return err
				},
			},
			{
				Name:          "archive-and-purge-batches",
				Schedule:      schedule.DailyTime{Hour: 2, Minute: 0, Weekday: &purgeDay},
				LockAtMostFor: 15 * time.Minute,
				Run: func(ctx context.Context) error {
					return archiveAndPurge(ctx, a.store, a.cfg)
				},
			},
		})
		runner.Start()
		defer runner.Stop()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("postgres", true, "connected")
		metrics.RegisterComponent("bus", true, "connected")
		metrics.RegisterComponent("raft", true, "bootstrapped")

		stopHealthPoll := startHealthPolling(a)
		defer close(stopHealthPoll)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())

		srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
		logger.Info().Str("addr", a.cfg.MetricsAddr).Msg("metrics/health endpoints listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutdown signal received")
		case err := <-errCh:
			logger.Error().Err(err).Msg("metrics server error")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func runNightlyEod(ctx context.Context, a *app, calendar *schedule.Calendar) error {
	businessDate := time.Now()
	if !calendar.IsBusinessDay(businessDate) {
		log.WithComponent("serve").Info().Msg("skipping nightly eod: not a business day")
		return nil
	}

	accounts, err := a.store.ListAllAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	ids := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		ids = append(ids, acc.ID)
	}

	runCtx, cancel := context.WithTimeout(ctx, a.cfg.OrchestratorTimeout)
	defer cancel()
	a.orchestrator.Run(runCtx, ids, businessDate, a.cfg.PerAccountTimeout)

	summary := a.orchestrator.Summary()
	log.WithComponent("serve").Info().
		Int("succeeded", summary[orchestrator.AccountSucceeded]).
		Int("failed", summary[orchestrator.AccountFailed]).
		Msg("nightly eod run complete")
	return nil
}

// startHealthPolling periodically exercises the Postgres/Redis/upstream
// Checker implementations and feeds their verdicts into the process-wide
// health registry the /health endpoint serves. Each verdict passes through
// the hysteresis machine in pkg/metrics (UpdateComponent), so a single
// flaky probe doesn't flip readiness.
func startHealthPolling(a *app) chan struct{} {
	stop := make(chan struct{})
	pgChecker := health.NewPostgresChecker(a.store.(*positionstore.PostgresStore).Pool())
	redisChecker := health.NewRedisChecker(a.cache.Client())
	upstreamChecker := health.NewHTTPChecker(a.cfg.UpstreamBaseURL + "/health")

	metrics.RegisterComponent("upstream", true, "not yet checked")

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				pg := pgChecker.Check(ctx)
				redisResult := redisChecker.Check(ctx)
				upstreamResult := upstreamChecker.Check(ctx)
				cancel()
				metrics.UpdateComponent("postgres", pg.Healthy, pg.Message)
				metrics.UpdateComponent("redis", redisResult.Healthy, redisResult.Message)
				metrics.UpdateComponent("upstream", upstreamResult.Healthy, upstreamResult.Message)
			case <-stop:
				return
			}
		}
	}()
	return stop
}

func archiveAndPurge(ctx context.Context, store interface {
	ArchiveBatches(ctx context.Context, olderThan time.Time) (int, error)
	PurgeArchivedBatches(ctx context.Context, olderThan time.Time) (int, error)
}, cfg *config.Config) error {
	archived, err := store.ArchiveBatches(ctx, time.Now().AddDate(0, 0, -cfg.ArchiveRetentionDays))
	if err != nil {
		return fmt.Errorf("archive batches: %w", err)
	}
	purged, err := store.PurgeArchivedBatches(ctx, time.Now().AddDate(0, 0, -cfg.PurgeAfterDays))
	if err != nil {
		return fmt.Errorf("purge archived batches: %w", err)
	}
	log.WithComponent("serve").Info().Int("archived", archived).Int("purged", purged).Msg("archive/purge cycle complete")
	return nil
}
