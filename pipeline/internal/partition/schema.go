package partition

// Table describes one date-partitioned output table.
type Table struct {
	Name       string
	DateColumn string
	Columns    []string // insert order, excluding DateColumn
}

// Output tables, one per job.
var (
	PriceTicks = Table{
		Name:       "price_ticks",
		DateColumn: "ref_date",
		Columns:    []string{"symbol", "ts", "price", "volume"},
	}
	OHLCVDaily = Table{
		Name:       "ohlcv_daily",
		DateColumn: "ref_date",
		Columns:    []string{"symbol", "open", "high", "low", "close", "volume", "ticks"},
	}
	IntradayCandles = Table{
		Name:       "intraday_candles",
		DateColumn: "ref_date",
		Columns:    []string{"symbol", "bucket_start", "open", "high", "low", "close", "volume"},
	}
	EODSignals = Table{
		Name:       "eod_signals",
		DateColumn: "ref_date",
		Columns:    []string{"symbol", "signal", "fast_sma", "slow_sma", "close"},
	}
	BacktestResults = Table{
		Name:       "backtest_results",
		DateColumn: "ref_date",
		Columns:    []string{"symbol", "trades", "pnl", "position"},
	}
	DQResults = Table{
		Name:       "dq_results",
		DateColumn: "check_date",
		Columns:    []string{"check_name", "status", "details"},
	}
)

// Tables lists every output table.
var Tables = []Table{PriceTicks, OHLCVDaily, IntradayCandles, EODSignals, BacktestResults, DQResults}

// schema is portable between sqlite and postgres.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS price_ticks (
		ref_date TEXT NOT NULL,
		symbol   TEXT NOT NULL,
		ts       TEXT NOT NULL,
		price    TEXT NOT NULL,
		volume   BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS price_ticks_ref_date ON price_ticks (ref_date)`,
	`CREATE TABLE IF NOT EXISTS ohlcv_daily (
		ref_date TEXT NOT NULL,
		symbol   TEXT NOT NULL,
		open     TEXT NOT NULL,
		high     TEXT NOT NULL,
		low      TEXT NOT NULL,
		close    TEXT NOT NULL,
		volume   BIGINT NOT NULL,
		ticks    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ohlcv_daily_ref_date ON ohlcv_daily (ref_date)`,
	`CREATE TABLE IF NOT EXISTS intraday_candles (
		ref_date     TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		bucket_start TEXT NOT NULL,
		open         TEXT NOT NULL,
		high         TEXT NOT NULL,
		low          TEXT NOT NULL,
		close        TEXT NOT NULL,
		volume       BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS intraday_candles_ref_date ON intraday_candles (ref_date)`,
	`CREATE TABLE IF NOT EXISTS eod_signals (
		ref_date TEXT NOT NULL,
		symbol   TEXT NOT NULL,
		signal   TEXT NOT NULL,
		fast_sma TEXT NOT NULL,
		slow_sma TEXT NOT NULL,
		close    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS eod_signals_ref_date ON eod_signals (ref_date)`,
	`CREATE TABLE IF NOT EXISTS backtest_results (
		ref_date TEXT NOT NULL,
		symbol   TEXT NOT NULL,
		trades   INTEGER NOT NULL,
		pnl      TEXT NOT NULL,
		position TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS backtest_results_ref_date ON backtest_results (ref_date)`,
	`CREATE TABLE IF NOT EXISTS dq_results (
		check_date TEXT NOT NULL,
		check_name TEXT NOT NULL,
		status     TEXT NOT NULL,
		details    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS dq_results_check_date ON dq_results (check_date)`,
}
