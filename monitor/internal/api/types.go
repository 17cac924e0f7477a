package api

import (
	"time"

	"github.com/pipewatch/pipewatch/monitor/internal/status"
	"github.com/pipewatch/pipewatch/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State        string `json:"state"` // "healthy" | "degraded" | "unknown"
	JobCount     int    `json:"job_count"`
	HealthyCount int    `json:"healthy_count"`
	SilentCount  int    `json:"silent_count"`
	Malformed    int64  `json:"malformed"`
	WindowSeq    int64  `json:"window_seq"`
	AlertCount   int    `json:"alert_count"`
}

// JobResponse is one job in GET /api/v1/jobs or GET /api/v1/jobs/{name}.
type JobResponse struct {
	Job           string           `json:"job"`
	State         string           `json:"state"` // heartbeat state
	LastOK        string           `json:"last_ok"`
	MaxSilence    string           `json:"max_silence"`
	SilentSince   string           `json:"silent_since,omitempty"`
	Incidents     int              `json:"incidents"`
	LastStatus    types.Status     `json:"last_status,omitempty"`
	LastRunID     string           `json:"last_run_id,omitempty"`
	ReferenceDate string           `json:"reference_date,omitempty"`
	Rows          *int64           `json:"rows,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Runs          int              `json:"runs"`
	Errors        int              `json:"errors"`
	Diagnostics   []DiagnosticHint `json:"diagnostics"`
}

// CounterResponse is one (metric, job) counter of a window.
type CounterResponse struct {
	Metric string   `json:"metric"`
	Job    string   `json:"job"`
	Value  int      `json:"value"`
	RunIDs []string `json:"run_ids,omitempty"`
}

// WindowResponse is the payload for GET /api/v1/windows/latest.
type WindowResponse struct {
	Seq      int64             `json:"seq"`
	Start    time.Time         `json:"start"`
	End      time.Time         `json:"end"`
	Events   int               `json:"events"`
	Counters []CounterResponse `json:"counters"`
}

// DQResponse is the payload for GET /api/v1/dq.
type DQResponse struct {
	Dates map[string][]status.DQRecord `json:"dates"`
}

// PolicyResponse is one policy in GET /api/v1/policies.
type PolicyResponse struct {
	Name          string   `json:"name"`
	Condition     string   `json:"condition"`
	Job           string   `json:"job,omitempty"`
	Window        string   `json:"window"`
	RateLimit     string   `json:"rate_limit"`
	Severity      string   `json:"severity"`
	Channels      []string `json:"channels"`
	Documentation string   `json:"documentation,omitempty"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the data of
// every WebSocket broadcast.
type SnapshotResponse struct {
	Health      HealthResponse  `json:"health"`
	Jobs        []JobResponse   `json:"jobs"`
	Latest      *WindowResponse `json:"latest_window,omitempty"`
	GeneratedAt string          `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
