package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/pipewatch/pipewatch/pipeline/internal/partition"
	"github.com/pipewatch/pipewatch/pkg/types"
)

// DQ check outcomes as stored in dq_results.
const (
	CheckPass = "PASS"
	CheckFail = "FAIL"
)

// Data-quality check names.
const (
	CheckTicksPresent    = "ticks_present"
	CheckDailyCoverage   = "ohlcv_coverage"
	CheckOHLCConsistency = "ohlc_consistency"
	CheckCandleVolume    = "candle_volume_reconciles"
)

// CheckQuality runs the data-quality checks for date and replaces the
// dq_results partition. Any failed check ends the run with status WARN; the
// checks travel in the result so the runner can attach them to the event.
func CheckQuality(ctx context.Context, env *Env, date string) (Result, error) {
	ticks, err := env.Store.Count(ctx, partition.PriceTicks, date)
	if err != nil {
		return Result{}, fmt.Errorf("dq-checker: %w", err)
	}
	daily, err := env.Store.Daily(ctx, date)
	if err != nil {
		return Result{}, fmt.Errorf("dq-checker: %w", err)
	}
	candles, err := env.Store.Candles(ctx, date)
	if err != nil {
		return Result{}, fmt.Errorf("dq-checker: %w", err)
	}

	checks := []types.DQCheck{
		check(date, CheckTicksPresent, ticksPresent(ticks)),
		check(date, CheckDailyCoverage, dailyCoverage(env.Symbols, daily)),
		check(date, CheckOHLCConsistency, ohlcConsistency(daily)),
		check(date, CheckCandleVolume, candleVolume(daily, candles)),
	}

	n, err := env.Store.ReplaceDQ(ctx, date, checks)
	if err != nil {
		return Result{}, fmt.Errorf("dq-checker: %w", err)
	}

	res := okResult(n)
	res.Checks = checks
	var failed []string
	for _, c := range checks {
		if c.Status == CheckFail {
			failed = append(failed, c.CheckName)
		}
	}
	if len(failed) > 0 {
		res.Status = types.StatusWarn
		res.Reason = fmt.Sprintf("%d of %d checks failed: %s", len(failed), len(checks), strings.Join(failed, ", "))
	}
	return res, nil
}

// check builds a result row; an empty problem means PASS.
func check(date, name, problem string) types.DQCheck {
	c := types.DQCheck{CheckName: name, CheckDate: date, Status: CheckPass}
	if problem != "" {
		c.Status = CheckFail
		c.Details = problem
	}
	return c
}

func ticksPresent(n int64) string {
	if n == 0 {
		return "no ticks in price_ticks"
	}
	return ""
}

func dailyCoverage(symbols []string, daily []partition.Bar) string {
	have := make(map[string]bool, len(daily))
	for _, b := range daily {
		have[b.Symbol] = true
	}
	var missing []string
	for _, s := range symbols {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return "missing daily bars: " + strings.Join(missing, ", ")
	}
	return ""
}

func ohlcConsistency(daily []partition.Bar) string {
	var bad []string
	for _, b := range daily {
		if !b.Low.IsPositive() ||
			b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) ||
			b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
			bad = append(bad, b.Symbol)
		}
	}
	if len(bad) > 0 {
		return "inconsistent ohlc: " + strings.Join(bad, ", ")
	}
	return ""
}

func candleVolume(daily, candles []partition.Bar) string {
	sum := make(map[string]int64, len(daily))
	for _, c := range candles {
		sum[c.Symbol] += c.Volume
	}
	var bad []string
	for _, b := range daily {
		if sum[b.Symbol] != b.Volume {
			bad = append(bad, fmt.Sprintf("%s (daily=%d candles=%d)", b.Symbol, b.Volume, sum[b.Symbol]))
		}
	}
	if len(bad) > 0 {
		return "volume mismatch: " + strings.Join(bad, ", ")
	}
	return ""
}
