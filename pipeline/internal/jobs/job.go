package jobs

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/pipewatch/pipewatch/pipeline/internal/partition"
	"github.com/pipewatch/pipewatch/pkg/types"
)

// ErrNotConfigured is returned by jobs whose external dependency is unset.
var ErrNotConfigured = errors.New("not configured")

// QuoteSource supplies intraday ticks to the collector.
type QuoteSource interface {
	Fetch(ctx context.Context, date string, symbols []string) ([]partition.Tick, error)
}

// Env carries everything a job may touch. Jobs share no other state.
type Env struct {
	Store          *partition.Store
	Quotes         QuoteSource
	Symbols        []string
	CandleInterval time.Duration
	FastSMA        int
	SlowSMA        int

	// SignalWebhook is the alert-dispatcher target. Empty disables it.
	SignalWebhook string
	HTTP          *http.Client
}

// Result is the outcome of a successful job run.
type Result struct {
	Rows int64

	// Status is OK unless the job completed with findings (dq-checker).
	Status types.Status
	Reason string
	Checks []types.DQCheck
}

// Func runs one job for one reference date (YYYY-MM-DD). A returned error
// marks the run as failed.
type Func func(ctx context.Context, env *Env, date string) (Result, error)

var registry = map[string]Func{
	types.JobCollector:       Collect,
	types.JobLoader:          Load,
	types.JobAggregator:      Aggregate,
	types.JobSignalGenerator: GenerateSignals,
	types.JobBacktester:      Backtest,
	types.JobDQChecker:       CheckQuality,
	types.JobAlertDispatcher: DispatchSignals,
}

// Lookup returns the implementation of the named job.
func Lookup(name string) (Func, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Names returns the implemented jobs in their soft dependency order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for _, n := range types.CanonicalJobs {
		if _, ok := registry[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

func okResult(rows int64) Result {
	return Result{Rows: rows, Status: types.StatusOK}
}
