package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/pipewatch/pipewatch/monitor/internal/alerts"
	"github.com/pipewatch/pipewatch/monitor/internal/counters"
	"github.com/pipewatch/pipewatch/monitor/internal/heartbeat"
	"github.com/pipewatch/pipewatch/monitor/internal/ingest"
	"github.com/pipewatch/pipewatch/monitor/internal/status"
	"github.com/pipewatch/pipewatch/monitor/internal/telemetry"
	"github.com/pipewatch/pipewatch/pkg/types"
)

// Deps are the monitor components the API reads from. Push, Metrics and
// Stream are optional; a nil handler leaves its route unregistered.
type Deps struct {
	Status    *status.Store
	Heartbeat *heartbeat.Monitor
	Extractor *counters.Extractor
	Engine    *alerts.Engine
	Decoder   *ingest.Decoder

	Push    http.Handler
	Metrics http.Handler
	Stream  http.Handler
}

// Handler is the HTTP handler for the monitor.
type Handler struct {
	deps   Deps
	router *mux.Router
}

// New creates a Handler wired to deps and registers all routes.
func New(deps Deps) http.Handler {
	h := &Handler{deps: deps, router: mux.NewRouter()}
	r := h.router

	r.HandleFunc("/api/v1/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/jobs", h.listJobs).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/jobs/{name}", h.getJob).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/dq", h.dq).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/windows/latest", h.latestWindow).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/alerts", h.alerts).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/policies", h.policies).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/snapshot", h.snapshot).Methods(http.MethodGet)

	if deps.Push != nil {
		r.Handle("/api/v1/events", deps.Push).Methods(http.MethodPost)
	}
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics).Methods(http.MethodGet)
	}
	if deps.Stream != nil {
		r.Handle("/ws/stream", deps.Stream)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, BuildHealth(h.deps))
}

func (h *Handler) listJobs(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, buildJobs(h.deps))
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	hb, ok := h.deps.Heartbeat.Get(name)
	if !ok {
		jsonErr(w, http.StatusNotFound, "job not found")
		return
	}
	var rec *status.JobRecord
	if jr, ok := h.deps.Status.Job(name); ok {
		rec = &jr
	}
	jsonResp(w, http.StatusOK, toJobResponse(hb, rec))
}

func (h *Handler) dq(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date != "" {
		if _, err := time.Parse(types.DateLayout, date); err != nil {
			jsonErr(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}
	jsonResp(w, http.StatusOK, DQResponse{Dates: h.deps.Status.DQ(date)})
}

func (h *Handler) latestWindow(w http.ResponseWriter, _ *http.Request) {
	win, ok := h.deps.Extractor.Latest()
	if !ok {
		jsonErr(w, http.StatusNotFound, "no window closed yet")
		return
	}
	jsonResp(w, http.StatusOK, toWindowResponse(win))
}

func (h *Handler) alerts(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, h.deps.Engine.History())
}

func (h *Handler) policies(w http.ResponseWriter, _ *http.Request) {
	ps := h.deps.Engine.Policies()
	out := make([]PolicyResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, PolicyResponse{
			Name:          p.Name,
			Condition:     p.Condition.String(),
			Job:           p.Job,
			Window:        p.Window.String(),
			RateLimit:     p.RateLimit.String(),
			Severity:      p.Severity,
			Channels:      p.Channels,
			Documentation: p.Documentation,
		})
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) snapshot(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, BuildSnapshot(h.deps))
}

// --- builders ---------------------------------------------------------------

// BuildHealth summarises heartbeat states, malformed input and alert history.
func BuildHealth(d Deps) HealthResponse {
	jobs := d.Heartbeat.Snapshot()
	resp := HealthResponse{JobCount: len(jobs)}
	for _, j := range jobs {
		if j.State == heartbeat.StateSilent {
			resp.SilentCount++
		} else {
			resp.HealthyCount++
		}
	}
	if d.Decoder != nil {
		resp.Malformed = d.Decoder.Malformed()
	}
	if win, ok := d.Extractor.Latest(); ok {
		resp.WindowSeq = win.Seq
	}
	for _, f := range d.Engine.History() {
		if f.Outcome == telemetry.OutcomeFired {
			resp.AlertCount++
		}
	}

	switch {
	case resp.JobCount == 0:
		resp.State = "unknown"
	case resp.SilentCount > 0:
		resp.State = "degraded"
	default:
		resp.State = "healthy"
	}
	return resp
}

// BuildSnapshot assembles the full status document. It is also the payload
// of the WebSocket stream.
func BuildSnapshot(d Deps) SnapshotResponse {
	resp := SnapshotResponse{
		Health:      BuildHealth(d),
		Jobs:        buildJobs(d),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if win, ok := d.Extractor.Latest(); ok {
		wr := toWindowResponse(win)
		resp.Latest = &wr
	}
	return resp
}

func buildJobs(d Deps) []JobResponse {
	hbs := d.Heartbeat.Snapshot()
	out := make([]JobResponse, 0, len(hbs))
	for _, hb := range hbs {
		var rec *status.JobRecord
		if jr, ok := d.Status.Job(hb.Job); ok {
			rec = &jr
		}
		out = append(out, toJobResponse(hb, rec))
	}
	return out
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func toJobResponse(hb heartbeat.JobStatus, rec *status.JobRecord) JobResponse {
	jr := JobResponse{
		Job:         hb.Job,
		State:       string(hb.State),
		LastOK:      hb.LastOK.UTC().Format(time.RFC3339),
		MaxSilence:  hb.MaxSilence.String(),
		Incidents:   hb.Incidents,
		Diagnostics: computeDiagnostics(hb, rec),
	}
	if hb.SilentSince != nil {
		jr.SilentSince = hb.SilentSince.UTC().Format(time.RFC3339)
	}
	if rec != nil {
		jr.LastStatus = rec.Status
		jr.LastRunID = rec.RunID
		jr.ReferenceDate = rec.ReferenceDate
		jr.Rows = rec.Rows
		jr.Reason = rec.Reason
		jr.Runs = rec.Runs
		jr.Errors = rec.Errors
	}
	return jr
}

func toWindowResponse(w counters.Window) WindowResponse {
	cs := make([]CounterResponse, 0, len(w.Counts))
	for k, v := range w.Counts {
		cs = append(cs, CounterResponse{
			Metric: k.Metric,
			Job:    k.Job,
			Value:  v,
			RunIDs: w.RunIDs[k],
		})
	}
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Metric != cs[j].Metric {
			return cs[i].Metric < cs[j].Metric
		}
		return cs[i].Job < cs[j].Job
	})
	return WindowResponse{
		Seq:      w.Seq,
		Start:    w.Start,
		End:      w.End,
		Events:   w.Events,
		Counters: cs,
	}
}
