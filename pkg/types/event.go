package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the wire format of a reference date.
const DateLayout = "2006-01-02"

// ErrMalformed is wrapped by every validation or decode failure.
var ErrMalformed = errors.New("malformed job event")

// Status is the terminal outcome of one job execution.
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
	StatusWarn  Status = "WARN"
)

// Valid reports whether s is one of the three terminal statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusError, StatusWarn:
		return true
	}
	return false
}

// Canonical pipeline job names.
const (
	JobCollector       = "collector"
	JobLoader          = "loader"
	JobAggregator      = "aggregator"
	JobSignalGenerator = "signal-generator"
	JobBacktester      = "backtester"
	JobDQChecker       = "dq-checker"
	JobAlertDispatcher = "alert-dispatcher"
)

// CanonicalJobs lists the canonical job names in their soft dependency order.
var CanonicalJobs = []string{
	JobCollector,
	JobLoader,
	JobAggregator,
	JobSignalGenerator,
	JobBacktester,
	JobDQChecker,
	JobAlertDispatcher,
}

// JobEvent is one structured record per job execution attempt.
type JobEvent struct {
	JobName       string         `json:"job_name"`
	RunID         string         `json:"run_id"`
	Status        Status         `json:"status"`
	ReferenceDate string         `json:"reference_date"`
	Timestamp     time.Time      `json:"timestamp"`
	Reason        string         `json:"reason,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Key identifies the execution the event terminates.
func (e JobEvent) Key() string {
	return e.JobName + "/" + e.RunID
}

// Rows returns the "rows" detail written by the pipeline runner, if present.
func (e JobEvent) Rows() (int64, bool) {
	switch v := e.Details["rows"].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

// DQCheck is one row of the data-quality results view.
type DQCheck struct {
	CheckName string `json:"check_name"`
	CheckDate string `json:"check_date"`
	Status    string `json:"status"` // PASS | FAIL
	Details   string `json:"details,omitempty"`
}

// Checks decodes the "checks" detail carried by dq-checker events.
func (e JobEvent) Checks() []DQCheck {
	raw, ok := e.Details["checks"]
	if !ok {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var out []DQCheck
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

// Validate checks the event against the catalog of known jobs.
func (e JobEvent) Validate(c *Catalog) error {
	if !c.Has(e.JobName) {
		return fmt.Errorf("%w: unknown job_name %q", ErrMalformed, e.JobName)
	}
	if e.RunID == "" {
		return fmt.Errorf("%w: run_id is required", ErrMalformed)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: status %q not in OK|ERROR|WARN", ErrMalformed, e.Status)
	}
	if _, err := time.Parse(DateLayout, e.ReferenceDate); err != nil {
		return fmt.Errorf("%w: reference_date %q: want YYYY-MM-DD", ErrMalformed, e.ReferenceDate)
	}
	return nil
}

// Catalog is the immutable set of job names the monitor accepts.
type Catalog struct {
	names map[string]struct{}
}

// NewCatalog builds a catalog from names. An empty list yields the canonical jobs.
func NewCatalog(names ...string) *Catalog {
	if len(names) == 0 {
		names = CanonicalJobs
	}
	c := &Catalog{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		c.names[n] = struct{}{}
	}
	return c
}

// Has reports whether name is a known job.
func (c *Catalog) Has(name string) bool {
	_, ok := c.names[name]
	return ok
}

// Names returns the known job names sorted alphabetically.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.names))
	for n := range c.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// wireEvent mirrors JobEvent with loose typing so that slog output
// ("time", "level", "msg") decodes alongside the canonical fields.
type wireEvent struct {
	JobName       string         `json:"job_name"`
	RunID         string         `json:"run_id"`
	Status        string         `json:"status"`
	ReferenceDate string         `json:"reference_date"`
	Timestamp     *time.Time     `json:"timestamp"`
	Time          *time.Time     `json:"time"`
	Reason        string         `json:"reason"`
	Details       map[string]any `json:"details"`
}

// ParseLine decodes one structured log line into a validated JobEvent.
// Emission time is taken from "timestamp", then slog's "time", then receivedAt.
func ParseLine(line []byte, c *Catalog, receivedAt time.Time) (JobEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return JobEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	ev := JobEvent{
		JobName:       strings.TrimSpace(w.JobName),
		RunID:         strings.TrimSpace(w.RunID),
		Status:        Status(strings.ToUpper(strings.TrimSpace(w.Status))),
		ReferenceDate: strings.TrimSpace(w.ReferenceDate),
		Reason:        w.Reason,
		Details:       w.Details,
	}
	switch {
	case w.Timestamp != nil:
		ev.Timestamp = *w.Timestamp
	case w.Time != nil:
		ev.Timestamp = *w.Time
	default:
		ev.Timestamp = receivedAt
	}

	if err := ev.Validate(c); err != nil {
		return JobEvent{}, err
	}
	return ev, nil
}
