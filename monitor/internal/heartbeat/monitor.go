package heartbeat

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pipewatch/pipewatch/monitor/internal/telemetry"
	"github.com/pipewatch/pipewatch/pkg/types"
)

// State is the health of one job as seen by the heartbeat monitor.
type State string

const (
	StateHealthy State = "HEALTHY"
	StateSilent  State = "SILENT"
)

// Transition records a job moving between states.
type Transition struct {
	Job        string
	From       State
	To         State
	At         time.Time
	LastOK     time.Time
	MaxSilence time.Duration
	// Silence is how long the job had been quiet when it entered SILENT, or
	// how long the silent period lasted when it recovered.
	Silence time.Duration
	// RunID is the run that ended a silent period. Empty on SILENT entry.
	RunID string
}

// JobStatus is a point-in-time view of one job's heartbeat.
type JobStatus struct {
	Job         string        `json:"job"`
	State       State         `json:"state"`
	LastOK      time.Time     `json:"last_ok"`
	MaxSilence  time.Duration `json:"max_silence"`
	SilentSince *time.Time    `json:"silent_since,omitempty"`
	Incidents   int           `json:"incidents"`
}

type jobState struct {
	maxSilence  time.Duration
	lastOK      time.Time
	state       State
	silentSince time.Time
	incidents   int
}

// Monitor tracks the last OK event per job and detects absence by polling.
// Silence windows are fixed at construction.
//
// All exported methods are safe for concurrent use.
type Monitor struct {
	sink telemetry.Sink

	mu   sync.Mutex
	jobs map[string]*jobState
	now  func() time.Time
}

// New creates a Monitor for the given jobs. Every job starts HEALTHY with its
// last OK time set to start.
func New(windows map[string]time.Duration, start time.Time, sink telemetry.Sink) *Monitor {
	if sink == nil {
		sink = telemetry.Noop{}
	}
	m := &Monitor{
		sink: sink,
		jobs: make(map[string]*jobState, len(windows)),
		now:  time.Now,
	}
	for name, d := range windows {
		m.jobs[name] = &jobState{maxSilence: d, lastOK: start, state: StateHealthy}
		sink.HeartbeatState(name, false)
	}
	return m
}

// Observe records an OK event. A SILENT job returns to HEALTHY and the
// recovery is returned with ok == true. Non-OK events and unknown jobs are
// ignored. last OK never moves backwards.
func (m *Monitor) Observe(ev types.JobEvent) (Transition, bool) {
	if ev.Status != types.StatusOK {
		return Transition{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	js, ok := m.jobs[ev.JobName]
	if !ok {
		return Transition{}, false
	}
	if ev.Timestamp.After(js.lastOK) {
		js.lastOK = ev.Timestamp
	}
	if js.state != StateSilent {
		return Transition{}, false
	}

	silence := ev.Timestamp.Sub(js.silentSince)
	if silence < 0 {
		silence = 0
	}
	tr := Transition{
		Job:        ev.JobName,
		From:       StateSilent,
		To:         StateHealthy,
		At:         ev.Timestamp,
		LastOK:     js.lastOK,
		MaxSilence: js.maxSilence,
		Silence:    silence,
		RunID:      ev.RunID,
	}
	js.state = StateHealthy
	js.silentSince = time.Time{}
	m.sink.HeartbeatState(ev.JobName, false)
	return tr, true
}

// Check moves every HEALTHY job whose last OK is more than its max silence
// before now into SILENT and returns one Transition per such job. Jobs that
// are already SILENT are not reported again.
func (m *Monitor) Check(now time.Time) []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Transition
	for name, js := range m.jobs {
		if js.state == StateSilent {
			continue
		}
		quiet := now.Sub(js.lastOK)
		if quiet <= js.maxSilence {
			continue
		}
		js.state = StateSilent
		js.silentSince = now
		js.incidents++
		m.sink.HeartbeatState(name, true)
		out = append(out, Transition{
			Job:        name,
			From:       StateHealthy,
			To:         StateSilent,
			At:         now,
			LastOK:     js.lastOK,
			MaxSilence: js.maxSilence,
			Silence:    quiet,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// Snapshot returns the current status of every job, sorted by name.
func (m *Monitor) Snapshot() []JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]JobStatus, 0, len(m.jobs))
	for name, js := range m.jobs {
		st := JobStatus{
			Job:        name,
			State:      js.state,
			LastOK:     js.lastOK,
			MaxSilence: js.maxSilence,
			Incidents:  js.incidents,
		}
		if js.state == StateSilent {
			since := js.silentSince
			st.SilentSince = &since
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// Get returns the status of one job.
func (m *Monitor) Get(job string) (JobStatus, bool) {
	for _, st := range m.Snapshot() {
		if st.Job == job {
			return st, true
		}
	}
	return JobStatus{}, false
}

// Run evaluates absence every tick, independent of the event stream, and
// passes the SILENT entries of each check to onSilent together. onSilent is
// not called for a check with no entries. Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, tick time.Duration, onSilent func([]Transition)) {
	t := time.NewTicker(tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			trs := m.Check(m.now())
			for _, tr := range trs {
				slog.Warn("heartbeat: job went silent",
					"job", tr.Job,
					"last_ok", tr.LastOK,
					"silence", tr.Silence,
					"max_silence", tr.MaxSilence,
				)
			}
			if len(trs) > 0 && onSilent != nil {
				onSilent(trs)
			}
		}
	}
}
