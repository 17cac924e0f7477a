package counters

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pipewatch/pipewatch/monitor/internal/telemetry"
	"github.com/pipewatch/pipewatch/pkg/types"
)

// Metric names produced by the extractor.
const (
	MetricJobOK    = "job_ok"
	MetricJobError = "job_error"
	MetricDQFail   = "dq_fail"
	MetricJobWarn  = "job_warn"
)

// Metrics lists every metric name the extractor can produce.
var Metrics = []string{MetricJobOK, MetricJobError, MetricDQFail, MetricJobWarn}

// MaxRetained is the number of closed windows kept for multi-window policies.
// At the default 300s period this is 24 hours.
const MaxRetained = 288

// Key addresses one counter: a metric for a job.
type Key struct {
	Metric string
	Job    string
}

// Window is an immutable closed alignment window.
type Window struct {
	Seq    int64
	Start  time.Time
	End    time.Time
	Events int
	Counts map[Key]int
	RunIDs map[Key][]string
}

// Count returns the count for metric on job.
func (w Window) Count(metric, job string) int {
	return w.Counts[Key{Metric: metric, Job: job}]
}

// Total returns the sum of metric across all jobs.
func (w Window) Total(metric string) int {
	var n int
	for k, v := range w.Counts {
		if k.Metric == metric {
			n += v
		}
	}
	return n
}

// Series returns metric's count per job. Jobs with no events are absent.
func (w Window) Series(metric string) map[string]int {
	out := make(map[string]int)
	for k, v := range w.Counts {
		if k.Metric == metric {
			out[k.Job] = v
		}
	}
	return out
}

// Extractor aggregates validated JobEvents into per-window counters keyed by
// (metric, job). It is the only writer of those counters; everything else
// reads closed windows through Latest and Recent.
//
// All exported methods are safe for concurrent use.
type Extractor struct {
	period time.Duration
	dqJob  string
	sink   telemetry.Sink

	mu     sync.Mutex
	seq    int64
	open   *openWindow
	closed []Window // oldest first, at most MaxRetained
	now    func() time.Time
}

type openWindow struct {
	start  time.Time
	events int
	counts map[Key]int
	runIDs map[Key][]string
	seen   map[string]struct{} // job_name/run_id already counted in this window
}

func newOpenWindow(start time.Time) *openWindow {
	return &openWindow{
		start:  start,
		counts: make(map[Key]int),
		runIDs: make(map[Key][]string),
		seen:   make(map[string]struct{}),
	}
}

// New returns an Extractor with the given alignment period. WARN events from
// dqJob are counted as dq_fail; WARN events from any other job as job_warn.
func New(period time.Duration, dqJob string, sink telemetry.Sink) *Extractor {
	if sink == nil {
		sink = telemetry.Noop{}
	}
	e := &Extractor{
		period: period,
		dqJob:  dqJob,
		sink:   sink,
		now:    time.Now,
	}
	e.open = newOpenWindow(e.now().Truncate(period))
	return e
}

// Period returns the alignment period.
func (e *Extractor) Period() time.Duration { return e.period }

// MetricFor maps an event to the metric it increments.
func (e *Extractor) MetricFor(ev types.JobEvent) string {
	switch ev.Status {
	case types.StatusOK:
		return MetricJobOK
	case types.StatusError:
		return MetricJobError
	case types.StatusWarn:
		if ev.JobName == e.dqJob {
			return MetricDQFail
		}
		return MetricJobWarn
	}
	return ""
}

// Observe counts ev in the currently open window, whatever its timestamp.
// It returns false when the same (job_name, run_id) was already counted in
// this window.
func (e *Extractor) Observe(ev types.JobEvent) bool {
	metric := e.MetricFor(ev)
	if metric == "" {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	w := e.open
	if _, dup := w.seen[ev.Key()]; dup {
		e.sink.EventDuplicate(ev.JobName)
		slog.Debug("counters: duplicate run ignored", "job", ev.JobName, "run_id", ev.RunID)
		return false
	}
	w.seen[ev.Key()] = struct{}{}

	k := Key{Metric: metric, Job: ev.JobName}
	w.counts[k]++
	w.runIDs[k] = append(w.runIDs[k], ev.RunID)
	w.events++
	return true
}

// Close freezes the open window at now, retains it and opens the next one.
func (e *Extractor) Close(now time.Time) Window {
	e.mu.Lock()
	defer e.mu.Unlock()

	w := e.open
	e.seq++
	out := Window{
		Seq:    e.seq,
		Start:  w.start,
		End:    now,
		Events: w.events,
		Counts: w.counts,
		RunIDs: w.runIDs,
	}
	for _, ids := range out.RunIDs {
		sort.Strings(ids)
	}

	e.closed = append(e.closed, out)
	if len(e.closed) > MaxRetained {
		e.closed = e.closed[len(e.closed)-MaxRetained:]
	}
	e.open = newOpenWindow(now)
	e.sink.WindowClosed(out.Events)
	return out
}

// Latest returns the most recently closed window.
func (e *Extractor) Latest() (Window, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.closed) == 0 {
		return Window{}, false
	}
	return e.closed[len(e.closed)-1], true
}

// Recent returns up to n closed windows, oldest first.
func (e *Extractor) Recent(n int) []Window {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n > len(e.closed) {
		n = len(e.closed)
	}
	out := make([]Window, n)
	copy(out, e.closed[len(e.closed)-n:])
	return out
}

// Run closes a window on every period boundary and passes it to onClose.
// Boundaries are aligned to multiples of the period. Run blocks until ctx is
// cancelled.
func (e *Extractor) Run(ctx context.Context, onClose func(Window)) {
	for {
		now := e.now()
		next := now.Truncate(e.period).Add(e.period)
		t := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			w := e.Close(next)
			slog.Debug("counters: window closed",
				"seq", w.Seq, "start", w.Start, "end", w.End, "events", w.Events)
			if onClose != nil {
				onClose(w)
			}
		}
	}
}
