package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewatch/pipewatch/monitor/internal/config"
	"github.com/pipewatch/pipewatch/monitor/internal/counters"
	"github.com/pipewatch/pipewatch/monitor/internal/heartbeat"
	"github.com/pipewatch/pipewatch/monitor/internal/notify"
	"github.com/pipewatch/pipewatch/pkg/types"
)

var t0 = time.Date(2024, 8, 12, 21, 0, 0, 0, time.UTC)

type dispatch struct {
	ids []string
	n   notify.Notification
}

// fakeNotifier accepts the channel ids in known and records dispatches.
type fakeNotifier struct {
	known map[string]bool

	mu   sync.Mutex
	sent []dispatch
}

func newFakeNotifier(ids ...string) *fakeNotifier {
	f := &fakeNotifier{known: make(map[string]bool)}
	for _, id := range ids {
		f.known[id] = true
	}
	return f
}

func (f *fakeNotifier) Validate(ids []string) error {
	for _, id := range ids {
		if !f.known[id] {
			return notify.ErrUnknownChannel
		}
	}
	return nil
}

func (f *fakeNotifier) Dispatch(_ context.Context, ids []string, n notify.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, dispatch{ids: ids, n: n})
}

func (f *fakeNotifier) dispatched() []dispatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch(nil), f.sent...)
}

func monitorConfig(policies ...config.PolicyConfig) config.MonitorConfig {
	jobs := make([]config.JobConfig, 0, len(types.CanonicalJobs))
	for _, name := range types.CanonicalJobs {
		jobs = append(jobs, config.JobConfig{Name: name, MaxSilence: 24 * time.Hour})
	}
	return config.MonitorConfig{
		Window:   300 * time.Second,
		DQJob:    types.JobDQChecker,
		Jobs:     jobs,
		Policies: policies,
	}
}

func jobErrorPolicy() config.PolicyConfig {
	return config.PolicyConfig{
		Name:      "job-error",
		Condition: "job_error > 0",
		RateLimit: 900 * time.Second,
		Severity:  "critical",
		Channels:  []string{"ops"},
	}
}

func dqFailurePolicy() config.PolicyConfig {
	return config.PolicyConfig{
		Name:      "dq-failure",
		Condition: "dq_fail > 0",
		RateLimit: 900 * time.Second,
		Channels:  []string{"ops"},
	}
}

// closedWindow runs events through a fresh extractor and closes one window.
func closedWindow(t *testing.T, start time.Time, events ...types.JobEvent) counters.Window {
	t.Helper()
	ex := counters.New(300*time.Second, types.JobDQChecker, nil)
	for _, ev := range events {
		ex.Observe(ev)
	}
	w := ex.Close(start.Add(300 * time.Second))
	w.Start = start
	return w
}

func event(job, run string, status types.Status) types.JobEvent {
	return types.JobEvent{JobName: job, RunID: run, Status: status, ReferenceDate: "2024-08-12", Timestamp: t0}
}

func newEngine(t *testing.T, n Notifier, policies ...config.PolicyConfig) *Engine {
	t.Helper()
	e, err := New(monitorConfig(policies...), n, nil)
	require.NoError(t, err)
	return e
}

func TestParseCondition(t *testing.T) {
	c, err := ParseCondition("job_error > 0")
	require.NoError(t, err)
	assert.Equal(t, Condition{Metric: "job_error", Op: ">", Threshold: 0}, c)
	assert.True(t, c.Match(1))
	assert.False(t, c.Match(0))

	c, err = ParseCondition("absence")
	require.NoError(t, err)
	assert.True(t, c.Absence)
	assert.Equal(t, "absence", c.String())

	c, err = ParseCondition("job_ok <= 1.5")
	require.NoError(t, err)
	assert.Equal(t, "job_ok <= 1.5", c.String())

	for _, bad := range []string{"", "job_error >", "rows > 0", "job_error != 0", "job_error > x", "absence now"} {
		_, err := ParseCondition(bad)
		assert.Error(t, err, bad)
	}
}

func TestNew_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		policy config.PolicyConfig
	}{
		{"bad condition", config.PolicyConfig{Name: "p", Condition: "rows > 0", Channels: []string{"ops"}}},
		{"unknown job", config.PolicyConfig{Name: "p", Condition: "job_error > 0", Job: "nope", Channels: []string{"ops"}}},
		{"window not multiple", config.PolicyConfig{Name: "p", Condition: "job_error > 0", Window: 450 * time.Second, Channels: []string{"ops"}}},
		{"window too long", config.PolicyConfig{Name: "p", Condition: "job_error > 0", Window: 300 * time.Second * (counters.MaxRetained + 1), Channels: []string{"ops"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(monitorConfig(tc.policy), newFakeNotifier("ops"), nil)
			assert.Error(t, err)
		})
	}
}

func TestNew_UnknownChannel(t *testing.T) {
	reg, err := notify.NewRegistry([]config.ChannelConfig{
		{ID: "ops", Type: "webhook", Address: "http://ops.invalid"},
	}, config.SMTPConfig{}, time.Second, nil)
	require.NoError(t, err)

	p := jobErrorPolicy()
	p.Channels = []string{"ops", "pager"}
	_, err = New(monitorConfig(p), reg, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, notify.ErrUnknownChannel))
}

func TestEvaluateWindow_Scenario(t *testing.T) {
	n := newFakeNotifier("ops")
	e := newEngine(t, n, jobErrorPolicy(), dqFailurePolicy())
	e.now = func() time.Time { return t0.Add(300 * time.Second) }

	w := closedWindow(t, t0,
		event(types.JobCollector, "c-1", types.StatusOK),
		event(types.JobLoader, "l-1", types.StatusError),
		event(types.JobDQChecker, "d-1", types.StatusWarn),
	)
	require.Equal(t, 1, w.Count(counters.MetricJobOK, types.JobCollector))
	require.Equal(t, 1, w.Count(counters.MetricJobError, types.JobLoader))
	require.Equal(t, 1, w.Total(counters.MetricDQFail))

	e.EvaluateWindow(context.Background(), []counters.Window{w})

	sent := n.dispatched()
	require.Len(t, sent, 2)
	byPolicy := map[string]notify.Notification{}
	for _, d := range sent {
		byPolicy[d.n.Policy] = d.n
	}

	je := byPolicy["job-error"]
	require.Len(t, je.Triggers, 1)
	assert.Equal(t, types.JobLoader, je.Triggers[0].Job)
	assert.Equal(t, []string{"l-1"}, je.Triggers[0].RunIDs)
	assert.Equal(t, "critical", je.Severity)

	dq := byPolicy["dq-failure"]
	require.Len(t, dq.Triggers, 1)
	assert.Equal(t, types.JobDQChecker, dq.Triggers[0].Job)
	assert.Equal(t, "warning", dq.Severity)
}

func TestRateLimit(t *testing.T) {
	tests := []struct {
		name  string
		gap   time.Duration
		sends int
	}{
		{"within limit", 100 * time.Second, 1},
		{"after limit", 1000 * time.Second, 2},
		{"exactly at limit", 900 * time.Second, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n := newFakeNotifier("ops")
			e := newEngine(t, n, jobErrorPolicy())
			w := closedWindow(t, t0, event(types.JobLoader, "l-1", types.StatusError))

			e.now = func() time.Time { return t0 }
			e.EvaluateWindow(context.Background(), []counters.Window{w})
			e.now = func() time.Time { return t0.Add(tc.gap) }
			e.EvaluateWindow(context.Background(), []counters.Window{w})

			assert.Len(t, n.dispatched(), tc.sends)

			hist := e.History()
			require.Len(t, hist, 2)
			if tc.sends == 1 {
				assert.Equal(t, "suppressed", hist[0].Outcome)
			} else {
				assert.Equal(t, "fired", hist[0].Outcome)
			}
			assert.Equal(t, "fired", hist[1].Outcome)
		})
	}
}

func TestRateLimit_SuppressionDoesNotExtendTimer(t *testing.T) {
	n := newFakeNotifier("ops")
	e := newEngine(t, n, jobErrorPolicy())
	w := closedWindow(t, t0, event(types.JobLoader, "l-1", types.StatusError))

	for _, at := range []time.Duration{0, 300 * time.Second, 600 * time.Second, 900 * time.Second} {
		e.now = func() time.Time { return t0.Add(at) }
		e.EvaluateWindow(context.Background(), []counters.Window{w})
	}
	assert.Len(t, n.dispatched(), 2)
}

func TestRateLimit_IsPerPolicy(t *testing.T) {
	n := newFakeNotifier("ops")
	other := jobErrorPolicy()
	other.Name = "loader-error"
	other.Job = types.JobLoader
	e := newEngine(t, n, jobErrorPolicy(), other)
	e.now = func() time.Time { return t0 }

	w := closedWindow(t, t0, event(types.JobLoader, "l-1", types.StatusError))
	e.EvaluateWindow(context.Background(), []counters.Window{w})

	assert.Len(t, n.dispatched(), 2)
}

func TestEvaluateWindow_MultiWindowSum(t *testing.T) {
	n := newFakeNotifier("ops")
	p := config.PolicyConfig{
		Name:      "repeated-warn",
		Condition: "job_warn >= 2",
		Window:    900 * time.Second,
		RateLimit: 900 * time.Second,
		Channels:  []string{"ops"},
	}
	e := newEngine(t, n, p)
	e.now = func() time.Time { return t0 }

	w1 := closedWindow(t, t0, event(types.JobBacktester, "b-1", types.StatusWarn))
	w2 := closedWindow(t, t0.Add(300*time.Second))
	w3 := closedWindow(t, t0.Add(600*time.Second), event(types.JobBacktester, "b-2", types.StatusWarn))

	e.EvaluateWindow(context.Background(), []counters.Window{w2, w3})
	assert.Empty(t, n.dispatched(), "fewer closed windows than the policy spans")

	e.EvaluateWindow(context.Background(), []counters.Window{w1, w2, w3})
	sent := n.dispatched()
	require.Len(t, sent, 1)
	tr := sent[0].n.Triggers[0]
	assert.Equal(t, float64(2), tr.Value)
	assert.Equal(t, []string{"b-1", "b-2"}, tr.RunIDs)
	assert.Equal(t, t0, sent[0].n.WindowStart)
}

func TestEvaluateWindow_LessThanMatchesQuietJob(t *testing.T) {
	n := newFakeNotifier("ops")
	p := config.PolicyConfig{
		Name:      "no-collector-ok",
		Condition: "job_ok < 1",
		Job:       types.JobCollector,
		RateLimit: 900 * time.Second,
		Channels:  []string{"ops"},
	}
	e := newEngine(t, n, p)
	e.now = func() time.Time { return t0 }

	e.EvaluateWindow(context.Background(), []counters.Window{closedWindow(t, t0)})

	sent := n.dispatched()
	require.Len(t, sent, 1)
	assert.Equal(t, types.JobCollector, sent[0].n.Triggers[0].Job)
}

func TestHandleSilence(t *testing.T) {
	n := newFakeNotifier("ops")
	absence := config.PolicyConfig{
		Name:      "eod-absence",
		Condition: "absence",
		Job:       types.JobSignalGenerator,
		RateLimit: 900 * time.Second,
		Channels:  []string{"ops"},
	}
	e := newEngine(t, n, absence, jobErrorPolicy())
	e.now = func() time.Time { return t0 }

	lastOK := t0.Add(-18001 * time.Second)
	e.HandleSilence(context.Background(), []heartbeat.Transition{{
		Job: types.JobCollector, From: heartbeat.StateHealthy, To: heartbeat.StateSilent, At: t0, LastOK: lastOK,
	}})
	assert.Empty(t, n.dispatched(), "policy is filtered to another job")

	e.HandleSilence(context.Background(), []heartbeat.Transition{{
		Job: types.JobSignalGenerator, From: heartbeat.StateSilent, To: heartbeat.StateHealthy, At: t0,
	}})
	assert.Empty(t, n.dispatched(), "recoveries do not fire")

	e.HandleSilence(context.Background(), []heartbeat.Transition{{
		Job:        types.JobSignalGenerator,
		From:       heartbeat.StateHealthy,
		To:         heartbeat.StateSilent,
		At:         t0,
		LastOK:     lastOK,
		MaxSilence: 18000 * time.Second,
		Silence:    18001 * time.Second,
	}})
	sent := n.dispatched()
	require.Len(t, sent, 1)
	tr := sent[0].n.Triggers[0]
	assert.Equal(t, "absence", tr.Metric)
	require.NotNil(t, tr.LastOK)
	assert.Equal(t, lastOK, *tr.LastOK)
	assert.Equal(t, 18001*time.Second, tr.Silence)
}

func TestHandleSilence_SameCheckFiresOnce(t *testing.T) {
	n := newFakeNotifier("ops")
	absence := config.PolicyConfig{
		Name:      "any-absence",
		Condition: "absence",
		RateLimit: 900 * time.Second,
		Channels:  []string{"ops"},
	}
	e := newEngine(t, n, absence)
	e.now = func() time.Time { return t0 }

	collectorOK := t0.Add(-25 * time.Hour)
	loaderOK := t0.Add(-26 * time.Hour)
	e.HandleSilence(context.Background(), []heartbeat.Transition{
		{Job: types.JobCollector, From: heartbeat.StateHealthy, To: heartbeat.StateSilent, At: t0, LastOK: collectorOK, Silence: 25 * time.Hour},
		{Job: types.JobLoader, From: heartbeat.StateHealthy, To: heartbeat.StateSilent, At: t0, LastOK: loaderOK, Silence: 26 * time.Hour},
	})

	sent := n.dispatched()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].n.Triggers, 2)
	assert.Equal(t, types.JobCollector, sent[0].n.Triggers[0].Job)
	assert.Equal(t, types.JobLoader, sent[0].n.Triggers[1].Job)
	assert.Equal(t, loaderOK, sent[0].n.WindowStart)
	assert.Equal(t, t0, sent[0].n.WindowEnd)

	hist := e.History()
	require.Len(t, hist, 1)
	assert.Equal(t, "fired", hist[0].Outcome)
}

func TestEvaluateWindow_WaitsForFullSpan(t *testing.T) {
	n := newFakeNotifier("ops")
	p := config.PolicyConfig{
		Name:      "no-collector-ok",
		Condition: "job_ok < 1",
		Job:       types.JobCollector,
		Window:    900 * time.Second,
		RateLimit: 900 * time.Second,
		Channels:  []string{"ops"},
	}
	e := newEngine(t, n, p)
	e.now = func() time.Time { return t0 }

	w1 := closedWindow(t, t0)
	e.EvaluateWindow(context.Background(), []counters.Window{w1})
	assert.Empty(t, n.dispatched(), "one window after startup is not a 900s quiet period")

	w2 := closedWindow(t, t0.Add(300*time.Second))
	e.EvaluateWindow(context.Background(), []counters.Window{w1, w2})
	assert.Empty(t, n.dispatched())

	w3 := closedWindow(t, t0.Add(600*time.Second))
	e.EvaluateWindow(context.Background(), []counters.Window{w1, w2, w3})
	sent := n.dispatched()
	require.Len(t, sent, 1)
	assert.Equal(t, float64(0), sent[0].n.Triggers[0].Value)
}

func TestHistory_BoundedNewestFirst(t *testing.T) {
	n := newFakeNotifier("ops")
	p := jobErrorPolicy()
	p.RateLimit = 0
	e := newEngine(t, n, p)
	w := closedWindow(t, t0, event(types.JobLoader, "l-1", types.StatusError))

	for i := 0; i < maxHistoryLen+10; i++ {
		at := t0.Add(time.Duration(i) * time.Second)
		e.now = func() time.Time { return at }
		e.EvaluateWindow(context.Background(), []counters.Window{w})
	}

	hist := e.History()
	require.Len(t, hist, maxHistoryLen)
	assert.True(t, hist[0].FiredAt.After(hist[1].FiredAt))
	assert.Equal(t, t0.Add(time.Duration(maxHistoryLen+9)*time.Second), hist[0].FiredAt)
}
