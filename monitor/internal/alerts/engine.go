package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pipewatch/pipewatch/monitor/internal/config"
	"github.com/pipewatch/pipewatch/monitor/internal/counters"
	"github.com/pipewatch/pipewatch/monitor/internal/heartbeat"
	"github.com/pipewatch/pipewatch/monitor/internal/notify"
	"github.com/pipewatch/pipewatch/monitor/internal/telemetry"
)

const maxHistoryLen = 200

// Notifier validates channel references and delivers notifications.
// *notify.Registry satisfies it.
type Notifier interface {
	Validate(ids []string) error
	Dispatch(ctx context.Context, ids []string, n notify.Notification)
}

// Policy is a validated alert policy.
type Policy struct {
	Name          string
	Condition     Condition
	Job           string
	Window        time.Duration
	RateLimit     time.Duration
	Severity      string
	Channels      []string
	Documentation string

	windows int // Window / extractor period
}

// Firing is one audit record: a policy whose condition held, and whether the
// notification went out or was suppressed by the rate limit.
type Firing struct {
	ID       string           `json:"id"`
	Policy   string           `json:"policy"`
	Severity string           `json:"severity"`
	Outcome  string           `json:"outcome"` // "fired" | "suppressed"
	Message  string           `json:"message"`
	FiredAt  time.Time        `json:"fired_at"`
	Channels []string         `json:"channels"`
	Triggers []notify.Trigger `json:"triggers"`
}

// Engine evaluates alert policies and rate-limits their notifications per
// policy. Policies are fixed at construction.
//
// Engine is safe for concurrent use.
type Engine struct {
	policies []Policy
	jobs     []string
	notifier Notifier
	sink     telemetry.Sink

	mu       sync.Mutex
	lastFire map[string]time.Time // policy name -> last dispatched firing
	history  []Firing             // oldest first
	now      func() time.Time
}

// New builds an Engine from the monitor configuration. It fails when a policy
// has an unparseable condition, references an unknown channel or job, or has
// a window that is not a positive multiple of the extractor window.
func New(cfg config.MonitorConfig, n Notifier, sink telemetry.Sink) (*Engine, error) {
	if sink == nil {
		sink = telemetry.Noop{}
	}
	period := cfg.Window
	if period <= 0 {
		return nil, fmt.Errorf("alerts: extractor window must be positive")
	}

	jobs := cfg.JobNames()
	known := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		known[j] = true
	}

	e := &Engine{
		jobs:     jobs,
		notifier: n,
		sink:     sink,
		lastFire: make(map[string]time.Time),
		now:      time.Now,
	}
	seen := make(map[string]bool, len(cfg.Policies))
	for _, pc := range cfg.Policies {
		if seen[pc.Name] {
			return nil, fmt.Errorf("alerts: duplicate policy %q", pc.Name)
		}
		seen[pc.Name] = true

		cond, err := ParseCondition(pc.Condition)
		if err != nil {
			return nil, fmt.Errorf("alerts: policy %q: %w", pc.Name, err)
		}
		if pc.Job != "" && !known[pc.Job] {
			return nil, fmt.Errorf("alerts: policy %q: unknown job %q", pc.Name, pc.Job)
		}
		if err := n.Validate(pc.Channels); err != nil {
			return nil, fmt.Errorf("alerts: policy %q: %w", pc.Name, err)
		}

		window := pc.Window
		if window == 0 {
			window = period
		}
		if window < 0 || window%period != 0 {
			return nil, fmt.Errorf("alerts: policy %q: window %s is not a multiple of %s", pc.Name, window, period)
		}
		k := int(window / period)
		if k > counters.MaxRetained {
			return nil, fmt.Errorf("alerts: policy %q: window %s exceeds %d retained windows", pc.Name, window, counters.MaxRetained)
		}

		sev := pc.Severity
		if sev == "" {
			sev = "warning"
		}
		e.policies = append(e.policies, Policy{
			Name:          pc.Name,
			Condition:     cond,
			Job:           pc.Job,
			Window:        window,
			RateLimit:     pc.RateLimit,
			Severity:      sev,
			Channels:      pc.Channels,
			Documentation: pc.Documentation,
			windows:       k,
		})
	}
	return e, nil
}

// Policies returns the configured policies.
func (e *Engine) Policies() []Policy {
	out := make([]Policy, len(e.policies))
	copy(out, e.policies)
	return out
}

// MaxWindows returns the largest number of closed windows any policy reads.
func (e *Engine) MaxWindows() int {
	n := 1
	for _, p := range e.policies {
		if p.windows > n {
			n = p.windows
		}
	}
	return n
}

// EvaluateWindow tests every threshold policy against recent, the closed
// windows oldest first with the just-closed window last. Each policy sums its
// own trailing span and is skipped until that many windows have closed; every
// job is compared separately and all matching jobs become triggers of a
// single firing.
func (e *Engine) EvaluateWindow(ctx context.Context, recent []counters.Window) {
	if len(recent) == 0 {
		return
	}
	for _, p := range e.policies {
		if p.Condition.Absence {
			continue
		}
		if len(recent) < p.windows {
			continue
		}
		span := recent[len(recent)-p.windows:]
		triggers := e.matchSeries(p, span)
		if len(triggers) == 0 {
			continue
		}
		e.fire(ctx, p, triggers, span[0].Start, span[len(span)-1].End)
	}
}

func (e *Engine) matchSeries(p Policy, span []counters.Window) []notify.Trigger {
	jobs := []string{p.Job}
	if p.Job == "" {
		jobs = e.seriesJobs(p.Condition.Metric, span)
	}

	var out []notify.Trigger
	for _, job := range jobs {
		var v int
		var runIDs []string
		k := counters.Key{Metric: p.Condition.Metric, Job: job}
		for _, w := range span {
			v += w.Counts[k]
			runIDs = append(runIDs, w.RunIDs[k]...)
		}
		if !p.Condition.Match(float64(v)) {
			continue
		}
		out = append(out, notify.Trigger{
			Metric: p.Condition.Metric,
			Job:    job,
			Value:  float64(v),
			RunIDs: runIDs,
		})
	}
	return out
}

// seriesJobs returns every configured job plus any job seen in span for
// metric, sorted.
func (e *Engine) seriesJobs(metric string, span []counters.Window) []string {
	set := make(map[string]struct{}, len(e.jobs))
	for _, j := range e.jobs {
		set[j] = struct{}{}
	}
	for _, w := range span {
		for k := range w.Counts {
			if k.Metric == metric {
				set[k.Job] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for j := range set {
		out = append(out, j)
	}
	sort.Strings(out)
	return out
}

// HandleSilence runs absence policies for the jobs that entered SILENT in one
// heartbeat check. Each policy fires at most once, with every matching job as
// a trigger. Recoveries are ignored.
func (e *Engine) HandleSilence(ctx context.Context, trs []heartbeat.Transition) {
	for _, p := range e.policies {
		if !p.Condition.Absence {
			continue
		}
		var triggers []notify.Trigger
		var from, to time.Time
		for _, tr := range trs {
			if tr.To != heartbeat.StateSilent || (p.Job != "" && p.Job != tr.Job) {
				continue
			}
			lastOK := tr.LastOK
			triggers = append(triggers, notify.Trigger{
				Metric:  absenceKeyword,
				Job:     tr.Job,
				Value:   tr.Silence.Seconds(),
				LastOK:  &lastOK,
				Silence: tr.Silence,
			})
			if from.IsZero() || tr.LastOK.Before(from) {
				from = tr.LastOK
			}
			if tr.At.After(to) {
				to = tr.At
			}
		}
		if len(triggers) == 0 {
			continue
		}
		e.fire(ctx, p, triggers, from, to)
	}
}

// fire applies the per-policy rate limit, records the outcome and dispatches
// when allowed. The rate-limit timer is reset whenever the notification is
// handed off, whatever the delivery result.
func (e *Engine) fire(ctx context.Context, p Policy, triggers []notify.Trigger, from, to time.Time) {
	now := e.now()

	n := notify.Notification{
		ID:            uuid.NewString(),
		Policy:        p.Name,
		Severity:      p.Severity,
		Condition:     p.Condition.String(),
		Documentation: p.Documentation,
		FiredAt:       now,
		WindowStart:   from,
		WindowEnd:     to,
		Triggers:      triggers,
	}

	e.mu.Lock()
	last, ok := e.lastFire[p.Name]
	outcome := telemetry.OutcomeFired
	if ok && now.Sub(last) < p.RateLimit {
		outcome = telemetry.OutcomeSuppressed
	} else {
		e.lastFire[p.Name] = now
	}
	e.record(Firing{
		ID:       n.ID,
		Policy:   p.Name,
		Severity: p.Severity,
		Outcome:  outcome,
		Message:  n.Summary(),
		FiredAt:  now,
		Channels: p.Channels,
		Triggers: triggers,
	})
	e.mu.Unlock()

	e.sink.AlertFiring(p.Name, outcome)

	if outcome == telemetry.OutcomeSuppressed {
		slog.Info("alerts: firing suppressed by rate limit",
			"policy", p.Name,
			"last_fired", last,
			"rate_limit", p.RateLimit,
		)
		return
	}

	slog.Warn("alerts: policy fired",
		"policy", p.Name,
		"severity", p.Severity,
		"condition", n.Condition,
		"triggers", len(triggers),
		"channels", p.Channels,
	)
	e.notifier.Dispatch(ctx, p.Channels, n)
}

// record appends f to the bounded history. Caller holds e.mu.
func (e *Engine) record(f Firing) {
	e.history = append(e.history, f)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
}

// History returns copies of the recorded firings, newest first.
func (e *Engine) History() []Firing {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Firing, len(e.history))
	for i, f := range e.history {
		out[len(e.history)-1-i] = f
	}
	return out
}
