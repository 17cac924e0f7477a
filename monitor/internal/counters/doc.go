// Package counters is the metric extractor: it turns the stream of validated
// job events into job_ok, job_error, dq_fail and job_warn counts per job,
// aggregated over fixed alignment windows.
//
// Events always land in the window that is open when they arrive; a window
// that has closed is never revised. Consumers read closed windows only.
// A (job_name, run_id) pair is counted at most once per window.
package counters
