// Package reconcile is the reconciliation / diff engine (C8): it compares
// an account's active positions against the previous calendar day's and
// classifies the differences by severity, using the same ticker-driven
// cycle, metrics.NewTimer pattern, and per-entity structured logging as
// the rest of the scheduled jobs in this service, recast from
// infrastructure state onto positions.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerbase/posloader/pkg/log"
	"github.com/ledgerbase/posloader/pkg/metrics"
	"github.com/ledgerbase/posloader/pkg/positionstore"
	"github.com/ledgerbase/posloader/pkg/types"
)

// Severity classifies a Diff's impact.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Diff is one position-level discrepancy found between two business dates.
type Diff struct {
	AccountID    string
	ProductID    string
	Severity     Severity
	Description  string
	PrevQuantity float64
	NewQuantity  float64
	PrevValue    float64
	NewValue     float64
}

// Thresholds configures when a quantity/value delta escalates to CRITICAL
// rather than WARNING.
type Thresholds struct {
	WarningValuePct  float64
	CriticalValuePct float64
}

// Reconciler runs on-demand or scheduled diffs over the position store.
type Reconciler struct {
	store      positionstore.Store
	thresholds Thresholds
	logger     zerolog.Logger

	mu     sync.RWMutex
	stopCh chan struct{}
}

// New builds a Reconciler.
func New(store positionstore.Store, thresholds Thresholds) *Reconciler {
	return &Reconciler{
		store:      store,
		thresholds: thresholds,
		logger:     log.WithComponent("reconcile"),
		stopCh:     make(chan struct{}),
	}
}

// Start begins a reconciliation loop that runs ReconcileAll on every tick
// of interval until Stop. The loop takes no leader lock, so it runs on every
// instance that starts it; `serve` starts it alongside the lock-guarded
// reconcile-all job of pkg/schedule's cron runner.
func (r *Reconciler) Start(interval time.Duration) {
	go r.run(interval)
}

// Stop stops the loop started by Start.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")
	for {
		select {
		case <-ticker.C:
			if _, err := r.ReconcileAll(context.Background(), time.Now()); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// ReconcileAccount diffs a single account's active positions against its
// positions for businessDate minus one calendar day (weekends and holidays
// are not skipped).
func (r *Reconciler) ReconcileAccount(ctx context.Context, accountID string, businessDate time.Time) ([]Diff, error) {
	current, err := r.store.GetActivePositions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get active positions for %s: %w", accountID, err)
	}

	prevDate := businessDate.AddDate(0, 0, -1)
	previous, err := r.store.GetPositionsAsOf(ctx, accountID, prevDate)
	if err != nil {
		return nil, fmt.Errorf("get prior positions for %s: %w", accountID, err)
	}

	return r.diff(accountID, previous, current), nil
}

// ReconcileAll runs ReconcileAccount for every account with an EOD status
// recorded for businessDate, tallying diffs by severity into metrics.
func (r *Reconciler) ReconcileAll(ctx context.Context, businessDate time.Time) ([]Diff, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	statuses, err := r.store.ListEodStatusesForDate(ctx, businessDate)
	if err != nil {
		return nil, fmt.Errorf("list eod statuses for %s: %w", businessDate, err)
	}

	var all []Diff
	for _, st := range statuses {
		diffs, err := r.ReconcileAccount(ctx, st.AccountID, businessDate)
		if err != nil {
			r.logger.Error().Err(err).Str("account_id", st.AccountID).Msg("failed to reconcile account")
			continue
		}
		all = append(all, diffs...)
	}

	for _, d := range all {
		metrics.ReconciliationDiffsTotal.WithLabelValues(string(d.Severity)).Inc()
	}
	return all, nil
}

func (r *Reconciler) diff(accountID string, previous, current []types.Position) []Diff {
	prevByProduct := make(map[string]types.Position, len(previous))
	for _, p := range previous {
		prevByProduct[p.ProductID] = p
	}
	currByProduct := make(map[string]types.Position, len(current))
	for _, p := range current {
		currByProduct[p.ProductID] = p
	}

	var diffs []Diff
	for productID, curr := range currByProduct {
		prev, existed := prevByProduct[productID]
		if !existed {
			diffs = append(diffs, Diff{
				AccountID: accountID, ProductID: productID, Severity: SeverityWarning,
				Description: "new position not present in prior day", NewQuantity: curr.Quantity, NewValue: curr.MarketValue,
			})
			continue
		}
		if sev, ok := r.classify(prev.MarketValue, curr.MarketValue); ok {
			diffs = append(diffs, Diff{
				AccountID: accountID, ProductID: productID, Severity: sev,
				Description:  "market value changed beyond threshold",
				PrevQuantity: prev.Quantity, NewQuantity: curr.Quantity,
				PrevValue: prev.MarketValue, NewValue: curr.MarketValue,
			})
		}
	}
	for productID, prev := range prevByProduct {
		if _, stillPresent := currByProduct[productID]; !stillPresent {
			diffs = append(diffs, Diff{
				AccountID: accountID, ProductID: productID, Severity: SeverityCritical,
				Description: "position present yesterday is missing today", PrevQuantity: prev.Quantity, PrevValue: prev.MarketValue,
			})
		}
	}
	return diffs
}

func (r *Reconciler) classify(prevValue, newValue float64) (Severity, bool) {
	if prevValue == 0 {
		return "", false
	}
	delta := 100 * (newValue - prevValue) / prevValue
	if delta < 0 {
		delta = -delta
	}
	switch {
	case delta > r.thresholds.CriticalValuePct:
		return SeverityCritical, true
	case delta > r.thresholds.WarningValuePct:
		return SeverityWarning, true
	default:
		return "", false
	}
}
