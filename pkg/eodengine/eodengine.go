// Package eodengine is the EOD batch engine (C4): the per-account pipeline
// that fetches a snapshot, validates it, stages a batch, and activates it.
package eodengine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerbase/posloader/pkg/errs"
	"github.com/ledgerbase/posloader/pkg/eventpublisher"
	"github.com/ledgerbase/posloader/pkg/log"
	"github.com/ledgerbase/posloader/pkg/metrics"
	"github.com/ledgerbase/posloader/pkg/positionstore"
	"github.com/ledgerbase/posloader/pkg/types"
	"github.com/ledgerbase/posloader/pkg/validation"
)

// Options configures the validation/lateness tunables the engine needs at
// run time; everything else lives on the components it is handed.
type Options struct {
	StrictValidation      bool
	ZeroPriceThresholdPct float64
	ConcentrationPct      float64
	LateEodMaxDays        int
}

// snapshotFetcher is the narrow slice of *upstream.Client the engine
// depends on, so tests can substitute a fake upstream without standing up
// the resilience pipeline.
type snapshotFetcher interface {
	FetchSnapshot(ctx context.Context, accountID string, businessDate time.Time) (*types.Snapshot, error)
}

// Engine runs the per-account EOD flow described on ProcessEod.
type Engine struct {
	store     positionstore.Store
	upstream  snapshotFetcher
	publisher *eventpublisher.Publisher
	opts      Options
	logger    zerolog.Logger
}

// New wires an Engine from its dependencies.
func New(store positionstore.Store, client snapshotFetcher, publisher *eventpublisher.Publisher, opts Options) *Engine {
	return &Engine{
		store:     store,
		upstream:  client,
		publisher: publisher,
		opts:      opts,
		logger:    log.WithComponent("eodengine"),
	}
}

// Result summarizes one ProcessEod call's outcome.
type Result struct {
	AccountID     string
	BusinessDate  time.Time
	Status        types.EodState
	PositionCount int
	BatchID       int64
	SkipReason    string
}

// ProcessEod runs the full pipeline for one account/business date:
//  1. Ask the calendar (C9); if businessDate is not a business day, mark
//     SKIPPED and return
//  2. Check idempotency (EodStatus already COMPLETED -> skip)
//  3. Check late-EOD window
//  4. Mark IN_PROGRESS
//  5. Fetch snapshot from upstream (C2)
//  6. Handle UNAVAILABLE/ERROR snapshot status
//  7. Compute content hash, check duplicate (C3) -> SKIPPED:DUPLICATE
//  8. Validate snapshot (C3); PRICE_SERVICE_DOWN always aborts
//  9. Upsert reference data (client/account/products)
//  10. Create STAGING batch and insert positions
//  11. Day-over-day comparison against previous active positions
//  12. Activate the batch (STAGING -> ACTIVE)
//  13. Mark COMPLETED, publish PositionChange / ClientSignOff events
func (e *Engine) ProcessEod(ctx context.Context, accountID string, businessDate time.Time) (*Result, error) {
	timer := metrics.NewTimer()
	logger := log.WithAccountID(accountID)

	// 1. Business-day gate.
	if ok, err := e.store.IsBusinessDay(ctx, businessDate); err == nil && !ok {
		reason := fmt.Sprintf("%s is not a business day", businessDate.Format("2006-01-02"))
		e.markSkipped(ctx, accountID, businessDate, reason)
		metrics.EodRunsTotal.WithLabelValues("skipped_non_business_day").Inc()
		logger.Info().Msg("skipping eod: not a business day")
		return &Result{AccountID: accountID, BusinessDate: businessDate, Status: types.EodSkipped, SkipReason: reason}, nil
	}

	// 2. Idempotency check.
	if st, err := e.store.GetEodStatus(ctx, accountID, businessDate); err == nil {
		if st.Status == types.EodCompleted {
			logger.Info().Msg("eod already completed, skipping")
			return &Result{AccountID: accountID, BusinessDate: businessDate, Status: types.EodCompleted, PositionCount: st.PositionCount}, nil
		}
	}

	// 3. Late-EOD window.
	if e.opts.LateEodMaxDays > 0 && time.Since(businessDate) > time.Duration(e.opts.LateEodMaxDays)*24*time.Hour {
		reason := fmt.Sprintf("business date %s exceeds late-EOD window of %d days", businessDate.Format("2006-01-02"), e.opts.LateEodMaxDays)
		e.markSkipped(ctx, accountID, businessDate, reason)
		metrics.EodRunsTotal.WithLabelValues("skipped_late").Inc()
		return &Result{AccountID: accountID, BusinessDate: businessDate, Status: types.EodSkipped, SkipReason: reason}, nil
	}

	// 4. Mark IN_PROGRESS.
	startedAt := time.Now()
	_ = e.store.UpsertEodStatus(ctx, &types.EodStatus{
		AccountID: accountID, BusinessDate: businessDate, Status: types.EodInProgress, StartedAt: startedAt,
	})

	res, err := e.run(ctx, accountID, businessDate)
	if err != nil && errs.Is(err, errs.KindDuplicateSnapshot) {
		reason := err.Error()
		e.markSkipped(ctx, accountID, businessDate, reason)
		timer.ObserveDurationVec(metrics.EodRunDuration, "skipped_duplicate")
		metrics.EodRunsTotal.WithLabelValues("skipped_duplicate").Inc()
		return &Result{AccountID: accountID, BusinessDate: businessDate, Status: types.EodSkipped, SkipReason: reason}, nil
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
		_ = e.store.UpsertEodStatus(ctx, &types.EodStatus{
			AccountID: accountID, BusinessDate: businessDate, Status: types.EodFailed,
			StartedAt: startedAt, CompletedAt: time.Now(), LastError: err.Error(),
		})
		logger.Error().Err(err).Msg("eod run failed")
	}
	timer.ObserveDurationVec(metrics.EodRunDuration, outcome)
	metrics.EodRunsTotal.WithLabelValues(outcome).Inc()
	return res, err
}

func (e *Engine) run(ctx context.Context, accountID string, businessDate time.Time) (*Result, error) {
	logger := log.WithAccountID(accountID)

	// 5. Fetch snapshot.
	snap, err := e.upstream.FetchSnapshot(ctx, accountID, businessDate)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}

	// 6. Handle non-AVAILABLE statuses.
	if snap.Status == types.SnapshotUnavailable || snap.Status == types.SnapshotError {
		reason := fmt.Sprintf("upstream snapshot status %s", snap.Status)
		e.markSkipped(ctx, accountID, businessDate, reason)
		return &Result{AccountID: accountID, BusinessDate: businessDate, Status: types.EodSkipped, SkipReason: reason}, nil
	}

	// 7. Duplicate detection via content hash.
	hash := validation.ContentHash(snap.Positions)
	if prev, err := e.store.GetSnapshotHash(ctx, accountID, businessDate); err == nil && prev.ContentHash == hash {
		logger.Info().Msg("duplicate snapshot detected, skipping")
		metrics.DuplicateSnapshotsTotal.Inc()
		return nil, errs.New(errs.KindDuplicateSnapshot, accountID, fmt.Errorf("snapshot for %s already processed", businessDate.Format("2006-01-02")))
	}

	// 8. Validate. PRICE_SERVICE_DOWN is the critical upstream-health signal
	// and always aborts the run, strict mode or not.
	findings, _ := validation.ValidateSnapshot(snap, validation.Options{
		StrictValidation:      e.opts.StrictValidation,
		ZeroPriceThresholdPct: e.opts.ZeroPriceThresholdPct,
		ConcentrationPct:      e.opts.ConcentrationPct,
	})
	for _, f := range findings {
		metrics.ValidationFailuresTotal.WithLabelValues(f.Rule).Inc()
		logger.Warn().Str("rule", f.Rule).Str("message", f.Message).Msg("validation finding")
	}
	if e.opts.StrictValidation {
		if err := validation.AsBatchValidationError(findings); err != nil {
			return nil, err
		}
	}
	for _, f := range findings {
		if f.Rule == validation.RulePriceServiceDown {
			return nil, fmt.Errorf("validate snapshot: %s", f.Message)
		}
	}

	// 9. Reference-data upserts.
	if err := e.store.UpsertClient(ctx, &types.Client{ID: snap.ClientID}); err != nil {
		return nil, fmt.Errorf("upsert client: %w", err)
	}
	if err := e.store.UpsertAccount(ctx, &types.Account{ID: accountID, ClientID: snap.ClientID}); err != nil {
		return nil, fmt.Errorf("upsert account: %w", err)
	}
	for _, p := range snap.Positions {
		if err := e.store.UpsertProduct(ctx, &types.Product{ID: p.ProductID, Ticker: p.Ticker}); err != nil {
			return nil, fmt.Errorf("upsert product %s: %w", p.ProductID, err)
		}
	}

	// 10. Stage batch + insert positions.
	batchID, err := e.store.CreateBatch(ctx, accountID, businessDate)
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	positions := toPositions(accountID, businessDate, batchID, snap.Positions, types.SourceMSPMEod)
	if err := e.store.InsertPositions(ctx, batchID, positions); err != nil {
		return nil, fmt.Errorf("insert positions: %w", err)
	}

	// 11. Day-over-day comparison.
	if prevPositions, err := e.store.GetActivePositions(ctx, accountID); err == nil {
		prevMV := sumMarketValue(prevPositions)
		newMV := sumPositionsMarketValue(positions)
		if finding := validation.CompareDayOverDay(prevMV, newMV, e.opts.ConcentrationPct); finding != nil {
			logger.Warn().Str("rule", finding.Rule).Str("message", finding.Message).Msg("day-over-day finding")
		}
	}

	// 12. Activate.
	if err := e.store.ActivateBatch(ctx, accountID, batchID); err != nil {
		return nil, fmt.Errorf("activate batch: %w", err)
	}

	if err := e.store.SaveSnapshotHash(ctx, &types.SnapshotHash{
		AccountID: accountID, BusinessDate: businessDate, ContentHash: hash,
		PositionCount: len(positions), TotalQuantity: sumQuantity(positions), TotalMarketValue: sumPositionsMarketValue(positions),
	}); err != nil {
		logger.Error().Err(err).Msg("failed to persist snapshot hash")
	}

	// 13. Mark COMPLETED, publish events.
	completedAt := time.Now()
	_ = e.store.UpsertEodStatus(ctx, &types.EodStatus{
		AccountID: accountID, BusinessDate: businessDate, Status: types.EodCompleted,
		CompletedAt: completedAt, PositionCount: len(positions),
	})
	metrics.BatchesTotal.WithLabelValues(string(types.BatchActive)).Inc()
	metrics.PositionsLoaded.WithLabelValues(string(types.SourceMSPMEod)).Add(float64(len(positions)))

	if e.publisher != nil {
		_ = e.publisher.PublishPositionChange(ctx, types.PositionChangeEvent{
			EventType: "EOD_COMPLETE", AccountID: accountID, ClientID: snap.ClientID,
			PositionCount: len(positions), Timestamp: completedAt,
		})
		if accounts, err := e.store.ListAccountsByClient(ctx, snap.ClientID); err == nil && len(accounts) > 0 {
			allDone := true
			for _, a := range accounts {
				if st, err := e.store.GetEodStatus(ctx, a.ID, businessDate); err != nil || st.Status != types.EodCompleted {
					allDone = false
					break
				}
			}
			if allDone {
				_ = e.publisher.PublishClientSignOff(ctx, types.ClientSignOffEvent{
					ClientID: snap.ClientID, BusinessDate: businessDate, AccountCount: len(accounts), Timestamp: completedAt,
				})
			}
		}
	}

	return &Result{AccountID: accountID, BusinessDate: businessDate, Status: types.EodCompleted, PositionCount: len(positions), BatchID: batchID}, nil
}

func (e *Engine) markSkipped(ctx context.Context, accountID string, businessDate time.Time, reason string) {
	_ = e.store.UpsertEodStatus(ctx, &types.EodStatus{
		AccountID: accountID, BusinessDate: businessDate, Status: types.EodSkipped,
		CompletedAt: time.Now(), SkipReason: reason,
	})
}

func toPositions(accountID string, businessDate time.Time, batchID int64, raw []types.RawPosition, source types.PositionSource) []types.Position {
	out := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, types.Position{
			AccountID: accountID, ProductID: p.ProductID, BusinessDate: businessDate, BatchID: batchID,
			Quantity: p.Quantity, Price: p.Price, Currency: p.Currency, MarketValue: p.MarketValue,
			Source: source,
		})
	}
	return out
}

func sumMarketValue(positions []types.Position) float64 {
	var total float64
	for _, p := range positions {
		total += p.MarketValue
	}
	return total
}

func sumPositionsMarketValue(positions []types.Position) float64 { return sumMarketValue(positions) }

func sumQuantity(positions []types.Position) float64 {
	var total float64
	for _, p := range positions {
		total += p.Quantity
	}
	return total
}

// UploadPositions loads an operator-supplied position file for an account
// outside the MSPM_EOD feed (spec's MANUAL_UPLOAD source): it validates,
// stages, and activates a batch the way ProcessEod does, but skips the
// upstream fetch and duplicate-hash check since there is no upstream
// snapshot to compare against. It also does no reference-data upserts and
// writes no EOD status record.
func (e *Engine) UploadPositions(ctx context.Context, accountID string, businessDate time.Time, raw []types.RawPosition) (*Result, error) {
	logger := log.WithAccountID(accountID)

	snap := &types.Snapshot{AccountID: accountID, BusinessDate: businessDate, Status: types.SnapshotAvailable, Positions: raw}
	findings, _ := validation.ValidateSnapshot(snap, validation.Options{
		StrictValidation:      e.opts.StrictValidation,
		ZeroPriceThresholdPct: e.opts.ZeroPriceThresholdPct,
		ConcentrationPct:      e.opts.ConcentrationPct,
	})
	for _, f := range findings {
		metrics.ValidationFailuresTotal.WithLabelValues(f.Rule).Inc()
		logger.Warn().Str("rule", f.Rule).Str("message", f.Message).Msg("validation finding")
	}
	if e.opts.StrictValidation {
		if err := validation.AsBatchValidationError(findings); err != nil {
			return nil, err
		}
	}
	for _, f := range findings {
		if f.Rule == validation.RulePriceServiceDown {
			return nil, fmt.Errorf("validate upload: %s", f.Message)
		}
	}

	batchID, err := e.store.CreateBatch(ctx, accountID, businessDate)
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	positions := toPositions(accountID, businessDate, batchID, raw, types.SourceManualUpload)
	if err := e.store.InsertPositions(ctx, batchID, positions); err != nil {
		return nil, fmt.Errorf("insert positions: %w", err)
	}
	if err := e.store.ActivateBatch(ctx, accountID, batchID); err != nil {
		return nil, fmt.Errorf("activate batch: %w", err)
	}

	metrics.BatchesTotal.WithLabelValues(string(types.BatchActive)).Inc()
	metrics.PositionsLoaded.WithLabelValues(string(types.SourceManualUpload)).Add(float64(len(positions)))

	if e.publisher != nil {
		acc, accErr := e.store.GetAccount(ctx, accountID)
		clientID := ""
		if accErr == nil {
			clientID = acc.ClientID
		}
		_ = e.publisher.PublishPositionChange(ctx, types.PositionChangeEvent{
			EventType: "MANUAL_UPLOAD", AccountID: accountID, ClientID: clientID,
			PositionCount: len(positions), Timestamp: time.Now(),
		})
	}

	logger.Info().Int("positions", len(positions)).Msg("manual upload batch activated")
	return &Result{AccountID: accountID, BusinessDate: businessDate, Status: types.EodCompleted, PositionCount: len(positions), BatchID: batchID}, nil
}

// RollbackEod rolls an account's active batch back to its predecessor.
func (e *Engine) RollbackEod(ctx context.Context, accountID string, businessDate time.Time) (*types.Batch, error) {
	batch, err := e.store.RollbackBatch(ctx, accountID, businessDate)
	if err != nil {
		return nil, fmt.Errorf("rollback batch: %w", err)
	}
	metrics.BatchesTotal.WithLabelValues(string(types.BatchRolledBack)).Inc()
	return batch, nil
}

// ResetEodStatus clears a failed/in-progress status so the account can be
// reprocessed by an operator via the `eod reset` CLI command.
func (e *Engine) ResetEodStatus(ctx context.Context, accountID string, businessDate time.Time) error {
	return e.store.UpsertEodStatus(ctx, &types.EodStatus{
		AccountID: accountID, BusinessDate: businessDate, Status: types.EodNotStarted,
	})
}
