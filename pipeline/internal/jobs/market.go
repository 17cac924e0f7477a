package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pipewatch/pipewatch/pipeline/internal/partition"
)

// Collect fetches the date's ticks for the configured symbols and replaces
// the price_ticks partition.
func Collect(ctx context.Context, env *Env, date string) (Result, error) {
	if env.Quotes == nil {
		return Result{}, fmt.Errorf("collector: quote source %w", ErrNotConfigured)
	}
	if len(env.Symbols) == 0 {
		return Result{}, fmt.Errorf("collector: symbols %w", ErrNotConfigured)
	}

	ticks, err := env.Quotes.Fetch(ctx, date, env.Symbols)
	if err != nil {
		return Result{}, fmt.Errorf("collector: %w", err)
	}
	n, err := env.Store.ReplaceTicks(ctx, date, ticks)
	if err != nil {
		return Result{}, fmt.Errorf("collector: %w", err)
	}
	slog.Debug("jobs: ticks collected", "date", date, "rows", n, "symbols", len(env.Symbols))
	return okResult(n), nil
}

// Load folds the date's ticks into one OHLCV bar per symbol.
func Load(ctx context.Context, env *Env, date string) (Result, error) {
	ticks, err := env.Store.Ticks(ctx, date)
	if err != nil {
		return Result{}, fmt.Errorf("loader: %w", err)
	}
	bars := foldBars(ticks, func(partition.Tick) time.Time { return time.Time{} })
	for i := range bars {
		bars[i].Date = date
	}
	n, err := env.Store.ReplaceDaily(ctx, date, bars)
	if err != nil {
		return Result{}, fmt.Errorf("loader: %w", err)
	}
	return okResult(n), nil
}

// Aggregate buckets the date's ticks into CandleInterval candles.
func Aggregate(ctx context.Context, env *Env, date string) (Result, error) {
	if env.CandleInterval <= 0 {
		return Result{}, fmt.Errorf("aggregator: candle interval %w", ErrNotConfigured)
	}
	ticks, err := env.Store.Ticks(ctx, date)
	if err != nil {
		return Result{}, fmt.Errorf("aggregator: %w", err)
	}
	candles := foldBars(ticks, func(t partition.Tick) time.Time {
		return t.At.UTC().Truncate(env.CandleInterval)
	})
	n, err := env.Store.ReplaceCandles(ctx, date, candles)
	if err != nil {
		return Result{}, fmt.Errorf("aggregator: %w", err)
	}
	return okResult(n), nil
}

// foldBars groups ticks ordered by symbol then time into OHLCV bars keyed by
// (symbol, bucket(tick)). Output follows input order.
func foldBars(ticks []partition.Tick, bucket func(partition.Tick) time.Time) []partition.Bar {
	var out []partition.Bar
	for _, t := range ticks {
		start := bucket(t)
		if n := len(out); n > 0 && out[n-1].Symbol == t.Symbol && out[n-1].Start.Equal(start) {
			b := &out[n-1]
			if t.Price.GreaterThan(b.High) {
				b.High = t.Price
			}
			if t.Price.LessThan(b.Low) {
				b.Low = t.Price
			}
			b.Close = t.Price
			b.Volume += t.Volume
			b.Ticks++
			continue
		}
		out = append(out, partition.Bar{
			Symbol: t.Symbol,
			Start:  start,
			Open:   t.Price,
			High:   t.Price,
			Low:    t.Price,
			Close:  t.Price,
			Volume: t.Volume,
			Ticks:  1,
		})
	}
	return out
}
