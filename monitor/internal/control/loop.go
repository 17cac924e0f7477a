package control

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pipewatch/pipewatch/monitor/internal/alerts"
	"github.com/pipewatch/pipewatch/monitor/internal/counters"
	"github.com/pipewatch/pipewatch/monitor/internal/heartbeat"
	"github.com/pipewatch/pipewatch/monitor/internal/status"
	"github.com/pipewatch/pipewatch/pkg/types"
)

// State changes reported to the OnChange hook.
const (
	ChangeWindowClosed = "window_closed"
	ChangeJobSilent    = "job_silent"
	ChangeJobRecovered = "job_recovered"
)

// Loop is the monitor's control loop.
type Loop struct {
	extractor *counters.Extractor
	heartbeat *heartbeat.Monitor
	status    *status.Store
	engine    *alerts.Engine
	tick      time.Duration

	onChange func(change string, jobs []string)
}

// New returns a Loop. tick is the heartbeat polling interval.
func New(ex *counters.Extractor, hb *heartbeat.Monitor, st *status.Store, eng *alerts.Engine, tick time.Duration) *Loop {
	return &Loop{
		extractor: ex,
		heartbeat: hb,
		status:    st,
		engine:    eng,
		tick:      tick,
	}
}

// OnChange registers fn to be told about window closes and heartbeat
// transitions. Set it before Run; fn must not block.
func (l *Loop) OnChange(fn func(change string, jobs []string)) {
	l.onChange = fn
}

func (l *Loop) changed(change string, jobs []string) {
	if l.onChange != nil {
		l.onChange(change, jobs)
	}
}

// Handle applies one validated event. It is the ingest handler and may be
// called from any number of sources concurrently.
func (l *Loop) Handle(ev types.JobEvent) {
	counted := l.extractor.Observe(ev)
	l.status.Record(ev)

	if tr, ok := l.heartbeat.Observe(ev); ok {
		slog.Info("control: job recovered",
			"job", tr.Job,
			"run_id", tr.RunID,
			"silent_for", tr.Silence,
		)
		l.changed(ChangeJobRecovered, []string{tr.Job})
	}

	slog.Debug("control: event applied",
		"job", ev.JobName,
		"run_id", ev.RunID,
		"status", ev.Status,
		"counted", counted,
	)
}

// CloseWindow closes the open window at now and evaluates threshold
// policies against it.
func (l *Loop) CloseWindow(ctx context.Context, now time.Time) counters.Window {
	w := l.extractor.Close(now)
	l.windowClosed(ctx)
	return w
}

// CheckHeartbeats runs one heartbeat check at now and hands new SILENT
// transitions to absence policies.
func (l *Loop) CheckHeartbeats(ctx context.Context, now time.Time) []heartbeat.Transition {
	trs := l.heartbeat.Check(now)
	if len(trs) > 0 {
		l.silenced(ctx, trs)
	}
	return trs
}

func (l *Loop) windowClosed(ctx context.Context) {
	l.engine.EvaluateWindow(ctx, l.extractor.Recent(l.engine.MaxWindows()))
	l.changed(ChangeWindowClosed, nil)
}

func (l *Loop) silenced(ctx context.Context, trs []heartbeat.Transition) {
	l.engine.HandleSilence(ctx, trs)
	jobs := make([]string, len(trs))
	for i, tr := range trs {
		jobs[i] = tr.Job
	}
	l.changed(ChangeJobSilent, jobs)
}

// Run drives window closes and heartbeat ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		l.extractor.Run(ctx, func(counters.Window) { l.windowClosed(ctx) })
	}()
	go func() {
		defer wg.Done()
		l.heartbeat.Run(ctx, l.tick, func(trs []heartbeat.Transition) { l.silenced(ctx, trs) })
	}()
	go func() {
		defer wg.Done()
		l.status.Run(ctx)
	}()

	slog.Info("control: loop started",
		"window", l.extractor.Period(),
		"heartbeat_tick", l.tick,
	)
	wg.Wait()
	slog.Info("control: loop stopped")
}
