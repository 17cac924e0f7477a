// Package types defines the Job Event Model shared by the pipeline and the
// monitor. A JobEvent is the single terminal record a pipeline job emits per
// execution; the pipeline writes it as a structured log line and the monitor
// parses it back at its ingestion boundary.
package types
