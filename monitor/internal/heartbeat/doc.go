// Package heartbeat implements the dead-man's switch: a per-job record of the
// last OK event, checked on a fixed tick against each job's max silence.
//
// A job that stays quiet past its window moves HEALTHY → SILENT once and is
// reported exactly once for that silent period. The next OK event moves it
// back to HEALTHY.
package heartbeat
