package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/pipewatch/pipewatch/pipeline/internal/runner"
	"github.com/pipewatch/pipewatch/pkg/types"
)

const maxBody = 1 << 20

// JobRunner runs one job for one date.
type JobRunner interface {
	Run(ctx context.Context, job, date string) (runner.Outcome, error)
	Jobs() []string
}

// Request is the optional body of POST /jobs/{name}.
type Request struct {
	Date string `json:"date"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the trigger routes.
type Handler struct {
	runner JobRunner
	loc    *time.Location
	router *mux.Router
	now    func() time.Time
}

// New returns the trigger handler. metrics may be nil.
func New(r JobRunner, loc *time.Location, metrics http.Handler) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	h := &Handler{runner: r, loc: loc, router: mux.NewRouter(), now: time.Now}

	h.router.HandleFunc("/jobs/{name}", h.runJob).Methods(http.MethodPost)
	h.router.HandleFunc("/jobs", h.listJobs).Methods(http.MethodGet)
	h.router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		jsonResp(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if metrics != nil {
		h.router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	h.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	h.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Today returns the current date in the handler's time zone.
func (h *Handler) Today() string {
	return h.now().In(h.loc).Format(types.DateLayout)
}

func (h *Handler) runJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "read body")
		return
	}
	var req Request
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			jsonErr(w, http.StatusBadRequest, "body must be {\"date\":\"YYYY-MM-DD\"}")
			return
		}
	}
	date := strings.TrimSpace(req.Date)
	if date == "" {
		date = h.Today()
	}

	// The run outlives a disconnected client so that it always ends with
	// a terminal event.
	out, err := h.runner.Run(context.WithoutCancel(r.Context()), name, date)
	switch {
	case errors.Is(err, runner.ErrUnknownJob):
		jsonErr(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, runner.ErrInvalidDate):
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	code := http.StatusOK
	if out.Status == types.StatusError {
		code = http.StatusInternalServerError
	}
	jsonResp(w, code, out)
}

func (h *Handler) listJobs(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, map[string][]string{"jobs": h.runner.Jobs()})
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
