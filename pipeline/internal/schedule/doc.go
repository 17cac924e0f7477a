// Package schedule runs pipeline jobs on cron expressions. Every firing runs
// the job for "today" in the scheduler's time zone.
//
// Runs of the same job never overlap; a firing that arrives while the
// previous run is still going is skipped. A run started before shutdown is
// allowed to finish.
package schedule
