package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pipewatch/pipewatch/pipeline/internal/runner"
	"github.com/pipewatch/pipewatch/pkg/types"
)

// fakeRunner records calls and answers with a fixed status per job.
type fakeRunner struct {
	calls  []string
	status map[string]types.Status
	ctxErr error
}

func (f *fakeRunner) Jobs() []string { return []string{"collector", "loader"} }

func (f *fakeRunner) Run(ctx context.Context, job, date string) (runner.Outcome, error) {
	f.ctxErr = ctx.Err()
	st, ok := f.status[job]
	if !ok {
		return runner.Outcome{}, fmt.Errorf("%w %q", runner.ErrUnknownJob, job)
	}
	if _, err := time.Parse(types.DateLayout, date); err != nil {
		return runner.Outcome{}, fmt.Errorf("%w %q", runner.ErrInvalidDate, date)
	}
	f.calls = append(f.calls, job+"@"+date)
	return runner.Outcome{RunID: "run-1", Job: job, ReferenceDate: date, Status: st, Rows: 7}, nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeRunner) {
	t.Helper()
	fr := &fakeRunner{status: map[string]types.Status{"collector": types.StatusOK, "loader": types.StatusError}}
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	h := New(fr, ny, nil)
	// 02:30 UTC on the 13th is still the 12th in New York.
	h.now = func() time.Time { return time.Date(2024, 8, 13, 2, 30, 0, 0, time.UTC) }
	return h, fr
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRunJob_ExplicitDate(t *testing.T) {
	h, fr := newTestHandler(t)
	rec := post(h, "/jobs/collector", `{"date":"2024-08-09"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body)
	}
	var out runner.Outcome
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.RunID != "run-1" || out.Status != types.StatusOK || out.ReferenceDate != "2024-08-09" {
		t.Errorf("outcome = %+v", out)
	}
	if len(fr.calls) != 1 || fr.calls[0] != "collector@2024-08-09" {
		t.Errorf("calls = %v", fr.calls)
	}
}

func TestRunJob_DefaultsToTodayInZone(t *testing.T) {
	for _, body := range []string{"", "{}", `{"date":""}`} {
		h, fr := newTestHandler(t)
		rec := post(h, "/jobs/collector", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("body %q: status = %d", body, rec.Code)
		}
		if fr.calls[0] != "collector@2024-08-12" {
			t.Errorf("body %q: calls = %v, want the New York date", body, fr.calls)
		}
	}
}

func TestRunJob_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"job error", "/jobs/loader", `{"date":"2024-08-12"}`, http.StatusInternalServerError},
		{"unknown job", "/jobs/reporter", "", http.StatusNotFound},
		{"bad date", "/jobs/collector", `{"date":"08/12/2024"}`, http.StatusBadRequest},
		{"bad json", "/jobs/collector", `{"date":`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newTestHandler(t)
			rec := post(h, tc.path, tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d; body=%s", rec.Code, tc.want, rec.Body)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestRunJob_SurvivesClientCancel(t *testing.T) {
	h, fr := newTestHandler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/jobs/collector", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if fr.ctxErr != nil {
		t.Errorf("job context err = %v, want nil", fr.ctxErr)
	}
}

func TestRoutes(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"collector"`) {
		t.Errorf("GET /jobs = %d %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/collector", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /jobs/collector = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /healthz = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /metrics without handler = %d, want 404", rec.Code)
	}
}
