// Package runner executes one job for one reference date and emits exactly
// one terminal JobEvent for the run.
//
// Events are written as slog JSON lines to the events file the monitor
// tails, and optionally published on a Redis channel. A job error or panic
// becomes an ERROR event; a dq-checker run with failed checks becomes WARN.
// Event details carry "rows", "duration_ms" and, for the dq job, "checks".
package runner
