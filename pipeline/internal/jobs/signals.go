package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/pipewatch/pipewatch/pipeline/internal/partition"
)

// Signal actions.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Position labels written by the backtester.
const (
	PositionLong = "LONG"
	PositionFlat = "FLAT"
)

const smaPlaces = 4

// GenerateSignals writes one SMA crossover signal per symbol that has a bar
// for date and at least SlowSMA+1 bars of history.
func GenerateSignals(ctx context.Context, env *Env, date string) (Result, error) {
	if env.FastSMA <= 0 || env.SlowSMA <= env.FastSMA {
		return Result{}, fmt.Errorf("signal-generator: sma periods %w", ErrNotConfigured)
	}

	var sigs []partition.Signal
	for _, sym := range env.Symbols {
		bars, err := env.Store.DailyHistory(ctx, sym, date, env.SlowSMA+1)
		if err != nil {
			return Result{}, fmt.Errorf("signal-generator: %w", err)
		}
		if len(bars) < env.SlowSMA+1 || bars[len(bars)-1].Date != date {
			slog.Debug("jobs: not enough history for signal", "symbol", sym, "date", date, "bars", len(bars))
			continue
		}
		sigs = append(sigs, crossover(sym, date, closes(bars), env.FastSMA, env.SlowSMA))
	}

	n, err := env.Store.ReplaceSignals(ctx, date, sigs)
	if err != nil {
		return Result{}, fmt.Errorf("signal-generator: %w", err)
	}
	return okResult(n), nil
}

// crossover compares fast/slow SMAs on the last close and the one before.
// closes must hold at least slow+1 values, oldest first.
func crossover(symbol, date string, closes []decimal.Decimal, fast, slow int) partition.Signal {
	last := len(closes)
	fastNow, slowNow := sma(closes[:last], fast), sma(closes[:last], slow)
	fastPrev, slowPrev := sma(closes[:last-1], fast), sma(closes[:last-1], slow)

	action := ActionHold
	switch {
	case fastPrev.LessThanOrEqual(slowPrev) && fastNow.GreaterThan(slowNow):
		action = ActionBuy
	case fastPrev.GreaterThanOrEqual(slowPrev) && fastNow.LessThan(slowNow):
		action = ActionSell
	}
	return partition.Signal{
		Date:    date,
		Symbol:  symbol,
		Action:  action,
		FastSMA: fastNow.Round(smaPlaces),
		SlowSMA: slowNow.Round(smaPlaces),
		Close:   closes[last-1],
	}
}

// sma averages the trailing n values of xs.
func sma(xs []decimal.Decimal, n int) decimal.Decimal {
	tail := xs[len(xs)-n:]
	return decimal.Sum(tail[0], tail[1:]...).Div(decimal.NewFromInt(int64(n)))
}

func closes(bars []partition.Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Backtest replays each symbol's signal history up to date: BUY opens a long
// position at the close when flat, SELL closes it. Open positions are marked
// to the latest close. Results are cumulative per symbol.
func Backtest(ctx context.Context, env *Env, date string) (Result, error) {
	var results []partition.BacktestResult
	for _, sym := range env.Symbols {
		hist, err := env.Store.SignalHistory(ctx, sym, date)
		if err != nil {
			return Result{}, fmt.Errorf("backtester: %w", err)
		}
		if len(hist) == 0 {
			continue
		}
		results = append(results, replay(sym, hist))
	}

	n, err := env.Store.ReplaceBacktest(ctx, date, results)
	if err != nil {
		return Result{}, fmt.Errorf("backtester: %w", err)
	}
	return okResult(n), nil
}

func replay(symbol string, hist []partition.Signal) partition.BacktestResult {
	res := partition.BacktestResult{Symbol: symbol, PnL: decimal.Zero, Position: PositionFlat}
	var entry decimal.Decimal
	for _, s := range hist {
		switch {
		case s.Action == ActionBuy && res.Position == PositionFlat:
			entry = s.Close
			res.Position = PositionLong
			res.Trades++
		case s.Action == ActionSell && res.Position == PositionLong:
			res.PnL = res.PnL.Add(s.Close.Sub(entry))
			res.Position = PositionFlat
			res.Trades++
		}
	}
	if res.Position == PositionLong {
		res.PnL = res.PnL.Add(hist[len(hist)-1].Close.Sub(entry))
	}
	return res
}
