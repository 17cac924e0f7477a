package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/pipewatch/pipewatch/monitor/internal/heartbeat"
	"github.com/pipewatch/pipewatch/monitor/internal/status"
	"github.com/pipewatch/pipewatch/pkg/types"
)

// DiagnosticHint is one human-readable insight about a job.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level  string `json:"level"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from a job's heartbeat and last run.
// rec is nil when no event has been seen for the job. Hints are ordered
// critical first.
func computeDiagnostics(hb heartbeat.JobStatus, rec *status.JobRecord) []DiagnosticHint {
	var hints []DiagnosticHint

	if hb.State == heartbeat.StateSilent {
		hints = append(hints, DiagnosticHint{
			Key:   "silent",
			Level: "critical",
			Title: "No successful run",
			Detail: fmt.Sprintf("No OK event for longer than %s. Last OK at %s.",
				hb.MaxSilence, hb.LastOK.UTC().Format(time.RFC3339)),
		})
	}

	if rec == nil {
		hints = append(hints, DiagnosticHint{
			Key:    "no_runs",
			Level:  "info",
			Title:  "No runs seen",
			Detail: "No events received for this job since the monitor started.",
		})
		return sortHints(hints)
	}

	switch rec.Status {
	case types.StatusError:
		reason := rec.Reason
		if reason == "" {
			reason = "no reason given"
		}
		hints = append(hints, DiagnosticHint{
			Key:    "last_run_failed",
			Level:  "critical",
			Title:  "Last run failed",
			Detail: fmt.Sprintf("Run %s for %s failed: %s.", rec.RunID, rec.ReferenceDate, reason),
		})
	case types.StatusWarn:
		hints = append(hints, DiagnosticHint{
			Key:    "last_run_warned",
			Level:  "warning",
			Title:  "Finished with warnings",
			Detail: fmt.Sprintf("Run %s for %s completed with warnings.", rec.RunID, rec.ReferenceDate),
		})
	case types.StatusOK:
		if rec.Rows != nil && *rec.Rows == 0 {
			hints = append(hints, DiagnosticHint{
				Key:    "empty_output",
				Level:  "warning",
				Title:  "Empty output",
				Detail: fmt.Sprintf("Run %s wrote no rows for %s.", rec.RunID, rec.ReferenceDate),
			})
		}
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "Healthy",
			Detail: fmt.Sprintf("Last run %s for %s succeeded.", rec.RunID, rec.ReferenceDate),
		})
	}
	return sortHints(hints)
}

func sortHints(h []DiagnosticHint) []DiagnosticHint {
	sort.SliceStable(h, func(i, j int) bool { return levelRank[h[i].Level] < levelRank[h[j].Level] })
	return h
}
