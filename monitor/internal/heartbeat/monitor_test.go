package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewatch/pipewatch/pkg/types"
)

var start = time.Date(2024, 8, 12, 0, 0, 0, 0, time.UTC)

func ok(job string, at time.Time) types.JobEvent {
	return types.JobEvent{JobName: job, RunID: at.String(), Status: types.StatusOK, ReferenceDate: "2024-08-12", Timestamp: at}
}

func windows() map[string]time.Duration {
	return map[string]time.Duration{
		"collector":   7200 * time.Second,
		"loader":      21600 * time.Second,
		"eod_signals": 18000 * time.Second,
	}
}

func TestInitialState_Healthy(t *testing.T) {
	m := New(windows(), start, nil)
	for _, st := range m.Snapshot() {
		assert.Equal(t, StateHealthy, st.State, st.Job)
		assert.Equal(t, start, st.LastOK, st.Job)
	}
	assert.Empty(t, m.Check(start.Add(7200*time.Second)), "exactly at the window is not yet silent")
}

func TestRegularOKs_NeverSilent(t *testing.T) {
	m := New(windows(), start, nil)
	// An OK every 7000s for a day, with ticks every 60s in between.
	at := start
	for i := 0; i < 12; i++ {
		at = at.Add(7000 * time.Second)
		for tick := at.Add(-7000 * time.Second); tick.Before(at); tick = tick.Add(60 * time.Second) {
			for _, tr := range m.Check(tick) {
				assert.NotEqual(t, "collector", tr.Job, "collector went silent at %v", tick)
			}
		}
		m.Observe(ok("collector", at))
	}
	st, found := m.Get("collector")
	require.True(t, found)
	assert.Equal(t, StateHealthy, st.State)
	assert.Zero(t, st.Incidents)
}

func TestSilence_ReportedExactlyOnce(t *testing.T) {
	m := New(map[string]time.Duration{"eod_signals": 18000 * time.Second}, start, nil)
	last := start.Add(time.Hour)
	m.Observe(ok("eod_signals", last))

	var transitions []Transition
	for tick := last; tick.Before(last.Add(30 * time.Hour)); tick = tick.Add(60 * time.Second) {
		transitions = append(transitions, m.Check(tick)...)
	}

	require.Len(t, transitions, 1, "one incident per silent period, not one per tick")
	tr := transitions[0]
	assert.Equal(t, "eod_signals", tr.Job)
	assert.Equal(t, StateSilent, tr.To)
	assert.Equal(t, last, tr.LastOK)
	assert.Greater(t, tr.Silence, 18000*time.Second)

	st, _ := m.Get("eod_signals")
	assert.Equal(t, 1, st.Incidents)
	require.NotNil(t, st.SilentSince)
}

func TestRecovery_ThenSilentAgain(t *testing.T) {
	m := New(map[string]time.Duration{"collector": 2 * time.Hour}, start, nil)

	require.Len(t, m.Check(start.Add(3*time.Hour)), 1)

	tr, recovered := m.Observe(ok("collector", start.Add(4*time.Hour)))
	require.True(t, recovered)
	assert.Equal(t, StateHealthy, tr.To)
	assert.Equal(t, time.Hour, tr.Silence)

	assert.Empty(t, m.Check(start.Add(5*time.Hour)))
	require.Len(t, m.Check(start.Add(7*time.Hour)), 1, "a new silent period is a new incident")

	st, _ := m.Get("collector")
	assert.Equal(t, 2, st.Incidents)
}

func TestObserve_IgnoresNonOKAndUnknown(t *testing.T) {
	m := New(map[string]time.Duration{"collector": time.Hour}, start, nil)

	errEv := ok("collector", start.Add(50*time.Minute))
	errEv.Status = types.StatusError
	m.Observe(errEv)
	m.Observe(ok("stranger", start.Add(50*time.Minute)))

	require.Len(t, m.Check(start.Add(61*time.Minute)), 1, "ERROR events do not feed the heartbeat")
	_, found := m.Get("stranger")
	assert.False(t, found)
}

func TestObserve_LastOKNeverMovesBackwards(t *testing.T) {
	m := New(map[string]time.Duration{"collector": time.Hour}, start, nil)
	m.Observe(ok("collector", start.Add(50*time.Minute)))
	m.Observe(ok("collector", start.Add(10*time.Minute)))

	st, _ := m.Get("collector")
	assert.Equal(t, start.Add(50*time.Minute), st.LastOK)
}

func TestRun_BatchesSameCheck(t *testing.T) {
	m := New(map[string]time.Duration{"collector": time.Minute, "loader": time.Minute}, start, nil)
	m.now = func() time.Time { return start.Add(2 * time.Minute) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []Transition, 4)
	go m.Run(ctx, 10*time.Millisecond, func(trs []Transition) { got <- trs })

	select {
	case trs := <-got:
		require.Len(t, trs, 2)
		jobs := []string{trs[0].Job, trs[1].Job}
		assert.ElementsMatch(t, []string{"collector", "loader"}, jobs)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not report the silent jobs")
	}
}

func TestRun_ReportsSilentJobs(t *testing.T) {
	m := New(map[string]time.Duration{"collector": time.Minute}, start, nil)
	m.now = func() time.Time { return start.Add(2 * time.Minute) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []Transition, 4)
	go m.Run(ctx, 10*time.Millisecond, func(trs []Transition) { got <- trs })

	select {
	case trs := <-got:
		require.Len(t, trs, 1)
		assert.Equal(t, "collector", trs[0].Job)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not report the silent job")
	}

	// Further ticks must not repeat the incident.
	select {
	case trs := <-got:
		t.Fatalf("unexpected repeat transitions: %+v", trs)
	case <-time.After(100 * time.Millisecond):
	}
}
