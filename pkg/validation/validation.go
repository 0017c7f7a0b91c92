// Package validation is the validation and duplicate-detection layer (C3).
// Struct-tag presence/format rules run through go-playground/validator;
// everything validator tags cannot express (thresholds, day-over-day
// comparison, content hashing) is hand-written business logic layered on
// top, combining a library for the mechanical part with explicit Go for
// the judgment calls.
package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ledgerbase/posloader/pkg/errs"
	"github.com/ledgerbase/posloader/pkg/types"
)

var validate = validator.New()

// rawPositionRule is the struct-tag shape used purely for presence/format
// checks; business rules below operate on types.RawPosition directly.
type rawPositionRule struct {
	ProductID string  `validate:"required"`
	Ticker    string  `validate:"required"`
	Quantity  float64 `validate:"required"`
	Currency  string  `validate:"required,len=3"`
}

var tickerPattern = regexp.MustCompile(`^[A-Z0-9.\-]{1,12}$`)

// Options carries the tunables this package exposes for validation.
type Options struct {
	StrictValidation      bool
	ZeroPriceThresholdPct float64
	ConcentrationPct      float64
	TickerBlacklist       map[string]bool
}

// Finding is one validation failure surfaced to the caller; the EOD engine
// decides whether a Finding aborts the batch (strict mode) or is only
// logged.
type Finding struct {
	Rule    string
	Message string
}

// RulePriceServiceDown names the critical upstream-health finding: it
// aborts a run regardless of StrictValidation.
const RulePriceServiceDown = "PRICE_SERVICE_DOWN"

// ValidateSnapshot runs struct-tag and business rules over every position
// in snap, returning every finding rather than stopping at the first.
func ValidateSnapshot(snap *types.Snapshot, opts Options) ([]Finding, error) {
	var findings []Finding

	zeroPriceCount := 0
	var totalMarketValue float64
	maxSingleValue := make(map[string]float64)

	for _, p := range snap.Positions {
		rule := rawPositionRule{ProductID: p.ProductID, Ticker: p.Ticker, Quantity: p.Quantity, Currency: p.Currency}
		if err := validate.Struct(rule); err != nil {
			findings = append(findings, Finding{Rule: "struct", Message: err.Error()})
		}

		if !tickerPattern.MatchString(p.Ticker) {
			findings = append(findings, Finding{Rule: "ticker_format", Message: fmt.Sprintf("ticker %q fails format check", p.Ticker)})
		}
		if opts.TickerBlacklist != nil && opts.TickerBlacklist[p.Ticker] {
			findings = append(findings, Finding{Rule: "ticker_blacklist", Message: fmt.Sprintf("ticker %q is blacklisted", p.Ticker)})
		}

		if p.Price == 0 && p.Quantity != 0 {
			zeroPriceCount++
		}

		totalMarketValue += p.MarketValue
		maxSingleValue[p.ProductID] += p.MarketValue
	}

	if len(snap.Positions) > 0 {
		zeroPricePct := 100 * float64(zeroPriceCount) / float64(len(snap.Positions))
		if zeroPricePct > opts.ZeroPriceThresholdPct {
			findings = append(findings, Finding{
				Rule:    RulePriceServiceDown,
				Message: fmt.Sprintf("%.1f%% of positions have zero price, exceeding threshold %.1f%%", zeroPricePct, opts.ZeroPriceThresholdPct),
			})
		}
	}

	if opts.ConcentrationPct > 0 && totalMarketValue > 0 {
		for productID, v := range maxSingleValue {
			pct := 100 * v / totalMarketValue
			if pct > opts.ConcentrationPct {
				findings = append(findings, Finding{
					Rule:    "concentration",
					Message: fmt.Sprintf("product %s is %.1f%% of account market value, exceeding threshold %.1f%%", productID, pct, opts.ConcentrationPct),
				})
			}
		}
	}

	return findings, nil
}

// CompareDayOverDay flags a swing in total market value beyond pctThreshold
// between yesterday's active positions and today's incoming snapshot.
func CompareDayOverDay(prevMarketValue, newMarketValue, pctThreshold float64) *Finding {
	if prevMarketValue == 0 {
		return nil
	}
	delta := 100 * (newMarketValue - prevMarketValue) / prevMarketValue
	if delta < 0 {
		delta = -delta
	}
	if delta > pctThreshold {
		return &Finding{
			Rule:    "day_over_day",
			Message: fmt.Sprintf("market value moved %.1f%% day-over-day, exceeding threshold %.1f%%", delta, pctThreshold),
		}
	}
	return nil
}

// ContentHash computes the SHA-256 content hash used for duplicate
// detection: positions are sorted by (productId, positionType) before
// hashing so row order from the upstream feed never changes the hash.
func ContentHash(positions []types.RawPosition) string {
	sorted := make([]types.RawPosition, len(positions))
	copy(sorted, positions)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ProductID != sorted[j].ProductID {
			return sorted[i].ProductID < sorted[j].ProductID
		}
		return sorted[i].PositionType < sorted[j].PositionType
	})

	var sb strings.Builder
	for _, p := range sorted {
		fmt.Fprintf(&sb, "%s|%.6f|%.6f|%s|%s;", p.ProductID, p.Quantity, p.Price, p.Currency, p.PositionType)
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// AsBatchValidationError wraps findings as a single errs.Error of kind
// BatchValidation, the form the EOD engine returns to callers when strict
// mode is on.
func AsBatchValidationError(findings []Finding) error {
	if len(findings) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&sb, "[%s] %s; ", f.Rule, f.Message)
	}
	return errs.New(errs.KindBatchValidation, "", fmt.Errorf("%s", strings.TrimSpace(sb.String())))
}
