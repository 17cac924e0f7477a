package partition

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pipewatch/pipewatch/pkg/types"
)

// tickTimeLayout is fixed-width so that text ordering is chronological.
const tickTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Tick is one intraday trade print.
type Tick struct {
	Symbol string          `json:"symbol"`
	At     time.Time       `json:"ts"`
	Price  decimal.Decimal `json:"price"`
	Volume int64           `json:"volume"`
}

// Bar is one OHLCV aggregate. Start is zero for daily bars.
type Bar struct {
	Date   string
	Symbol string
	Start  time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
	Ticks  int
}

// Signal is one end-of-day trading signal.
type Signal struct {
	Date    string          `json:"reference_date"`
	Symbol  string          `json:"symbol"`
	Action  string          `json:"signal"`
	FastSMA decimal.Decimal `json:"fast_sma"`
	SlowSMA decimal.Decimal `json:"slow_sma"`
	Close   decimal.Decimal `json:"close"`
}

// BacktestResult is the cumulative replay outcome for one symbol.
type BacktestResult struct {
	Symbol   string
	Trades   int
	PnL      decimal.Decimal
	Position string
}

// ReplaceTicks overwrites the price_ticks partition for date.
func (s *Store) ReplaceTicks(ctx context.Context, date string, ticks []Tick) (int64, error) {
	rows := make([][]any, 0, len(ticks))
	for _, t := range ticks {
		rows = append(rows, []any{t.Symbol, t.At.UTC().Format(tickTimeLayout), t.Price.String(), t.Volume})
	}
	return s.Replace(ctx, PriceTicks, date, rows)
}

// Ticks returns the date's ticks ordered by symbol then time.
func (s *Store) Ticks(ctx context.Context, date string) ([]Tick, error) {
	rows, err := s.query(ctx, `SELECT symbol, ts, price, volume FROM price_ticks WHERE ref_date = ? ORDER BY symbol, ts`, date)
	if err != nil {
		return nil, fmt.Errorf("partition: read price_ticks: %w", err)
	}
	defer rows.Close()

	var out []Tick
	for rows.Next() {
		var t Tick
		var ts, price string
		if err := rows.Scan(&t.Symbol, &ts, &price, &t.Volume); err != nil {
			return nil, fmt.Errorf("partition: scan price_ticks: %w", err)
		}
		if t.At, err = time.Parse(tickTimeLayout, ts); err != nil {
			return nil, fmt.Errorf("partition: price_ticks ts %q: %w", ts, err)
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("partition: price_ticks price %q: %w", price, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ReplaceDaily overwrites the ohlcv_daily partition for date.
func (s *Store) ReplaceDaily(ctx context.Context, date string, bars []Bar) (int64, error) {
	rows := make([][]any, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, []any{b.Symbol, b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume, b.Ticks})
	}
	return s.Replace(ctx, OHLCVDaily, date, rows)
}

// Daily returns the date's daily bars ordered by symbol.
func (s *Store) Daily(ctx context.Context, date string) ([]Bar, error) {
	rows, err := s.query(ctx, `SELECT ref_date, symbol, open, high, low, close, volume, ticks FROM ohlcv_daily WHERE ref_date = ? ORDER BY symbol`, date)
	if err != nil {
		return nil, fmt.Errorf("partition: read ohlcv_daily: %w", err)
	}
	return scanDaily(rows)
}

// DailyHistory returns up to n daily bars for symbol ending at date
// (inclusive), oldest first.
func (s *Store) DailyHistory(ctx context.Context, symbol, date string, n int) ([]Bar, error) {
	rows, err := s.query(ctx, `SELECT ref_date, symbol, open, high, low, close, volume, ticks FROM ohlcv_daily
		WHERE symbol = ? AND ref_date <= ? ORDER BY ref_date DESC LIMIT ?`, symbol, date, n)
	if err != nil {
		return nil, fmt.Errorf("partition: read ohlcv_daily history: %w", err)
	}
	bars, err := scanDaily(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

func scanDaily(rows *sql.Rows) ([]Bar, error) {
	defer rows.Close()
	var out []Bar
	for rows.Next() {
		var b Bar
		var o, h, l, c string
		if err := rows.Scan(&b.Date, &b.Symbol, &o, &h, &l, &c, &b.Volume, &b.Ticks); err != nil {
			return nil, fmt.Errorf("partition: scan ohlcv_daily: %w", err)
		}
		var err error
		if b.Open, b.High, b.Low, b.Close, err = parseOHLC(o, h, l, c); err != nil {
			return nil, fmt.Errorf("partition: ohlcv_daily %s %s: %w", b.Date, b.Symbol, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ReplaceCandles overwrites the intraday_candles partition for date.
func (s *Store) ReplaceCandles(ctx context.Context, date string, candles []Bar) (int64, error) {
	rows := make([][]any, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, []any{c.Symbol, c.Start.UTC().Format(time.RFC3339), c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume})
	}
	return s.Replace(ctx, IntradayCandles, date, rows)
}

// Candles returns the date's candles ordered by symbol then bucket.
func (s *Store) Candles(ctx context.Context, date string) ([]Bar, error) {
	rows, err := s.query(ctx, `SELECT symbol, bucket_start, open, high, low, close, volume FROM intraday_candles
		WHERE ref_date = ? ORDER BY symbol, bucket_start`, date)
	if err != nil {
		return nil, fmt.Errorf("partition: read intraday_candles: %w", err)
	}
	defer rows.Close()

	var out []Bar
	for rows.Next() {
		b := Bar{Date: date}
		var start, o, h, l, c string
		if err := rows.Scan(&b.Symbol, &start, &o, &h, &l, &c, &b.Volume); err != nil {
			return nil, fmt.Errorf("partition: scan intraday_candles: %w", err)
		}
		if b.Start, err = time.Parse(time.RFC3339, start); err != nil {
			return nil, fmt.Errorf("partition: intraday_candles bucket %q: %w", start, err)
		}
		if b.Open, b.High, b.Low, b.Close, err = parseOHLC(o, h, l, c); err != nil {
			return nil, fmt.Errorf("partition: intraday_candles %s: %w", b.Symbol, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ReplaceSignals overwrites the eod_signals partition for date.
func (s *Store) ReplaceSignals(ctx context.Context, date string, sigs []Signal) (int64, error) {
	rows := make([][]any, 0, len(sigs))
	for _, g := range sigs {
		rows = append(rows, []any{g.Symbol, g.Action, g.FastSMA.String(), g.SlowSMA.String(), g.Close.String()})
	}
	return s.Replace(ctx, EODSignals, date, rows)
}

// Signals returns the date's signals ordered by symbol.
func (s *Store) Signals(ctx context.Context, date string) ([]Signal, error) {
	return s.signals(ctx, `SELECT ref_date, symbol, signal, fast_sma, slow_sma, close FROM eod_signals
		WHERE ref_date = ? ORDER BY symbol`, date)
}

// SignalHistory returns every signal for symbol up to date (inclusive),
// oldest first.
func (s *Store) SignalHistory(ctx context.Context, symbol, date string) ([]Signal, error) {
	return s.signals(ctx, `SELECT ref_date, symbol, signal, fast_sma, slow_sma, close FROM eod_signals
		WHERE symbol = ? AND ref_date <= ? ORDER BY ref_date`, symbol, date)
}

func (s *Store) signals(ctx context.Context, q string, args ...any) ([]Signal, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("partition: read eod_signals: %w", err)
	}
	defer rows.Close()

	var out []Signal
	for rows.Next() {
		var g Signal
		var fast, slow, cl string
		if err := rows.Scan(&g.Date, &g.Symbol, &g.Action, &fast, &slow, &cl); err != nil {
			return nil, fmt.Errorf("partition: scan eod_signals: %w", err)
		}
		if g.FastSMA, err = decimal.NewFromString(fast); err != nil {
			return nil, fmt.Errorf("partition: eod_signals fast_sma %q: %w", fast, err)
		}
		if g.SlowSMA, err = decimal.NewFromString(slow); err != nil {
			return nil, fmt.Errorf("partition: eod_signals slow_sma %q: %w", slow, err)
		}
		if g.Close, err = decimal.NewFromString(cl); err != nil {
			return nil, fmt.Errorf("partition: eod_signals close %q: %w", cl, err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ReplaceBacktest overwrites the backtest_results partition for date.
func (s *Store) ReplaceBacktest(ctx context.Context, date string, results []BacktestResult) (int64, error) {
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		rows = append(rows, []any{r.Symbol, r.Trades, r.PnL.String(), r.Position})
	}
	return s.Replace(ctx, BacktestResults, date, rows)
}

// Backtest returns the date's backtest results ordered by symbol.
func (s *Store) Backtest(ctx context.Context, date string) ([]BacktestResult, error) {
	rows, err := s.query(ctx, `SELECT symbol, trades, pnl, position FROM backtest_results WHERE ref_date = ? ORDER BY symbol`, date)
	if err != nil {
		return nil, fmt.Errorf("partition: read backtest_results: %w", err)
	}
	defer rows.Close()

	var out []BacktestResult
	for rows.Next() {
		var r BacktestResult
		var pnl string
		if err := rows.Scan(&r.Symbol, &r.Trades, &pnl, &r.Position); err != nil {
			return nil, fmt.Errorf("partition: scan backtest_results: %w", err)
		}
		if r.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("partition: backtest_results pnl %q: %w", pnl, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceDQ overwrites the dq_results partition for date.
func (s *Store) ReplaceDQ(ctx context.Context, date string, checks []types.DQCheck) (int64, error) {
	rows := make([][]any, 0, len(checks))
	for _, c := range checks {
		rows = append(rows, []any{c.CheckName, c.Status, c.Details})
	}
	return s.Replace(ctx, DQResults, date, rows)
}

// DQ returns the date's data-quality results ordered by check name.
func (s *Store) DQ(ctx context.Context, date string) ([]types.DQCheck, error) {
	rows, err := s.query(ctx, `SELECT check_date, check_name, status, details FROM dq_results WHERE check_date = ? ORDER BY check_name`, date)
	if err != nil {
		return nil, fmt.Errorf("partition: read dq_results: %w", err)
	}
	defer rows.Close()

	var out []types.DQCheck
	for rows.Next() {
		var c types.DQCheck
		if err := rows.Scan(&c.CheckDate, &c.CheckName, &c.Status, &c.Details); err != nil {
			return nil, fmt.Errorf("partition: scan dq_results: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func parseOHLC(o, h, l, c string) (open, high, low, cl decimal.Decimal, err error) {
	if open, err = decimal.NewFromString(o); err != nil {
		return
	}
	if high, err = decimal.NewFromString(h); err != nil {
		return
	}
	if low, err = decimal.NewFromString(l); err != nil {
		return
	}
	cl, err = decimal.NewFromString(c)
	return
}
