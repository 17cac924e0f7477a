// Package jobs implements the seven pipeline jobs. Each job processes one
// reference date and overwrites that date's partition in its output table,
// so any job can be rerun for any date.
//
//	collector        -> price_ticks       (HTTP quote source)
//	loader           -> ohlcv_daily       (price_ticks)
//	aggregator       -> intraday_candles  (price_ticks)
//	signal-generator -> eod_signals       (ohlcv_daily, SMA crossover)
//	backtester       -> backtest_results  (eod_signals)
//	dq-checker       -> dq_results        (all of the above)
//	alert-dispatcher -> webhook           (eod_signals)
//
// The order is a convention for scheduling; no job checks that its upstream
// ran. A job reading an empty upstream partition writes an empty partition.
package jobs
