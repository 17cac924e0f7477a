package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pipewatch/pipewatch/monitor/internal/alerts"
	"github.com/pipewatch/pipewatch/monitor/internal/api"
	"github.com/pipewatch/pipewatch/monitor/internal/auth"
	"github.com/pipewatch/pipewatch/monitor/internal/config"
	"github.com/pipewatch/pipewatch/monitor/internal/control"
	"github.com/pipewatch/pipewatch/monitor/internal/counters"
	"github.com/pipewatch/pipewatch/monitor/internal/heartbeat"
	"github.com/pipewatch/pipewatch/monitor/internal/ingest"
	"github.com/pipewatch/pipewatch/monitor/internal/notify"
	"github.com/pipewatch/pipewatch/monitor/internal/status"
	"github.com/pipewatch/pipewatch/monitor/internal/telemetry"
	"github.com/pipewatch/pipewatch/pkg/types"
)

// --- test helpers -----------------------------------------------------------

type fixture struct {
	handler http.Handler
	deps    api.Deps
	loop    *control.Loop
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := config.MonitorConfig{
		Window:        300 * time.Second,
		HeartbeatTick: time.Minute,
		DQJob:         types.JobDQChecker,
		NotifyTimeout: time.Second,
		Jobs: []config.JobConfig{
			{Name: types.JobCollector, MaxSilence: time.Hour},
			{Name: types.JobLoader, MaxSilence: time.Hour},
			{Name: types.JobDQChecker, MaxSilence: time.Hour},
		},
		Policies: []config.PolicyConfig{
			{Name: "job-error", Condition: "job_error > 0", RateLimit: 15 * time.Minute, Severity: "critical"},
		},
	}

	reg := prometheus.NewRegistry()
	sink := telemetry.NewPrometheusSink(reg)

	notifier, err := notify.NewRegistry(nil, m.SMTP, m.NotifyTimeout, sink)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	eng, err := alerts.New(m, notifier, sink)
	if err != nil {
		t.Fatalf("alerts.New: %v", err)
	}
	ex := counters.New(m.Window, m.DQJob, sink)
	hb := heartbeat.New(m.SilenceWindows(), time.Now(), sink)
	st := status.New(status.DefaultRetention)
	loop := control.New(ex, hb, st, eng, m.HeartbeatTick)
	dec := ingest.NewDecoder(types.NewCatalog(m.JobNames()...), loop.Handle, sink)

	deps := api.Deps{
		Status:    st,
		Heartbeat: hb,
		Extractor: ex,
		Engine:    eng,
		Decoder:   dec,
		Push:      auth.RequireAPIKey("X-Api-Key", "secret", ingest.NewPushHandler(dec)),
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	return &fixture{handler: api.New(deps), deps: deps, loop: loop}
}

func (f *fixture) push(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	req.Header.Set("X-Api-Key", "secret")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func eventJSON(job, run, status, reason string, details string) string {
	if details == "" {
		details = "{}"
	}
	return fmt.Sprintf(`{"job_name":%q,"run_id":%q,"status":%q,"reference_date":"2024-08-12","timestamp":%q,"reason":%q,"details":%s}`,
		job, run, status, time.Now().UTC().Format(time.RFC3339), reason, details)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- tests ------------------------------------------------------------------

func TestHealth_AllHealthy(t *testing.T) {
	f := newFixture(t)
	rr := get(t, f.handler, "/api/v1/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.State != "healthy" || resp.JobCount != 3 || resp.HealthyCount != 3 {
		t.Errorf("health: got %+v", resp)
	}
}

func TestHealth_DegradedWhenSilent(t *testing.T) {
	f := newFixture(t)
	f.deps.Heartbeat.Check(time.Now().Add(2 * time.Hour))

	var resp api.HealthResponse
	decode(t, get(t, f.handler, "/api/v1/health"), &resp)
	if resp.State != "degraded" || resp.SilentCount != 3 {
		t.Errorf("health: got %+v", resp)
	}
}

func TestPush_ThenJobs(t *testing.T) {
	f := newFixture(t)

	body := eventJSON("collector", "c-1", "OK", "", `{"rows":42}`) + "\n" +
		eventJSON("loader", "l-1", "ERROR", "bq_quota", "") + "\n" +
		"not json\n"
	rr := f.push(t, body)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("push status: got %d (%s)", rr.Code, rr.Body.String())
	}

	var jobs []api.JobResponse
	decode(t, get(t, f.handler, "/api/v1/jobs"), &jobs)
	if len(jobs) != 3 {
		t.Fatalf("jobs: got %d, want 3", len(jobs))
	}
	byName := map[string]api.JobResponse{}
	for _, j := range jobs {
		byName[j.Job] = j
	}

	c := byName["collector"]
	if c.LastRunID != "c-1" || c.Rows == nil || *c.Rows != 42 {
		t.Errorf("collector: got %+v", c)
	}
	if c.Diagnostics[0].Key != "healthy" {
		t.Errorf("collector diagnostics: got %+v", c.Diagnostics)
	}

	l := byName["loader"]
	if l.LastStatus != types.StatusError || l.Reason != "bq_quota" {
		t.Errorf("loader: got %+v", l)
	}
	if l.Diagnostics[0].Level != "critical" || l.Diagnostics[0].Key != "last_run_failed" {
		t.Errorf("loader diagnostics: got %+v", l.Diagnostics)
	}

	if d := byName["dq-checker"]; d.Diagnostics[0].Key != "no_runs" {
		t.Errorf("dq-checker diagnostics: got %+v", d.Diagnostics)
	}

	var health api.HealthResponse
	decode(t, get(t, f.handler, "/api/v1/health"), &health)
	if health.Malformed != 1 {
		t.Errorf("malformed: got %d, want 1", health.Malformed)
	}
}

func TestPush_RequiresKey(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(eventJSON("collector", "c", "OK", "", "")))
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rr.Code)
	}
}

func TestGetJob(t *testing.T) {
	f := newFixture(t)
	rr := get(t, f.handler, "/api/v1/jobs/loader")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var j api.JobResponse
	decode(t, rr, &j)
	if j.Job != "loader" || j.State != "HEALTHY" {
		t.Errorf("job: got %+v", j)
	}

	if rr := get(t, f.handler, "/api/v1/jobs/nope"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown job: got %d, want 404", rr.Code)
	}
}

func TestDQ(t *testing.T) {
	f := newFixture(t)
	checks := `{"checks":[{"check_name":"row_count","check_date":"2024-08-12","status":"FAIL","details":"0 rows"}]}`
	if rr := f.push(t, eventJSON("dq-checker", "d-1", "WARN", "", checks)); rr.Code != http.StatusAccepted {
		t.Fatalf("push: got %d", rr.Code)
	}

	var resp api.DQResponse
	decode(t, get(t, f.handler, "/api/v1/dq?date=2024-08-12"), &resp)
	recs := resp.Dates["2024-08-12"]
	if len(recs) != 1 || recs[0].Status != "FAIL" || recs[0].RunID != "d-1" {
		t.Errorf("dq: got %+v", resp)
	}

	if rr := get(t, f.handler, "/api/v1/dq?date=12/08/2024"); rr.Code != http.StatusBadRequest {
		t.Errorf("bad date: got %d, want 400", rr.Code)
	}
}

func TestLatestWindow(t *testing.T) {
	f := newFixture(t)
	if rr := get(t, f.handler, "/api/v1/windows/latest"); rr.Code != http.StatusNotFound {
		t.Fatalf("before close: got %d, want 404", rr.Code)
	}

	f.push(t, eventJSON("loader", "l-1", "ERROR", "bq_quota", ""))
	f.loop.CloseWindow(context.Background(), time.Now())

	rr := get(t, f.handler, "/api/v1/windows/latest")
	if rr.Code != http.StatusOK {
		t.Fatalf("after close: got %d, want 200", rr.Code)
	}
	var w api.WindowResponse
	decode(t, rr, &w)
	if w.Seq != 1 || w.Events != 1 || len(w.Counters) != 1 {
		t.Fatalf("window: got %+v", w)
	}
	if c := w.Counters[0]; c.Metric != "job_error" || c.Job != "loader" || c.Value != 1 {
		t.Errorf("counter: got %+v", c)
	}

	var hist []alerts.Firing
	decode(t, get(t, f.handler, "/api/v1/alerts"), &hist)
	if len(hist) != 1 || hist[0].Policy != "job-error" || hist[0].Outcome != "fired" {
		t.Errorf("alerts: got %+v", hist)
	}

	var snap api.SnapshotResponse
	decode(t, get(t, f.handler, "/api/v1/snapshot"), &snap)
	if snap.Latest == nil || snap.Latest.Seq != 1 || snap.Health.AlertCount != 1 {
		t.Errorf("snapshot: got %+v", snap)
	}
}

func TestPolicies(t *testing.T) {
	f := newFixture(t)
	var ps []api.PolicyResponse
	decode(t, get(t, f.handler, "/api/v1/policies"), &ps)
	if len(ps) != 1 || ps[0].Condition != "job_error > 0" || ps[0].RateLimit != "15m0s" {
		t.Errorf("policies: got %+v", ps)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.push(t, eventJSON("collector", "c-1", "OK", "", ""))

	rr := get(t, f.handler, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `pipewatch_events_ingested_total{job="collector",status="OK"} 1`) {
		t.Errorf("metrics output missing ingested counter:\n%s", rr.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/v1/health", "/api/v1/jobs", "/api/v1/alerts"} {
		rr := httptest.NewRecorder()
		f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: got %d, want 405", path, rr.Code)
		}
	}
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)
	rr := get(t, f.handler, "/api/v1/unknown")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rr.Code)
	}
}
