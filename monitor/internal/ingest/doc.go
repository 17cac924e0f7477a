// Package ingest is the monitor's event ingestion boundary. Three sources
// feed one Decoder: a tailer following the pipeline's JSON-lines events file,
// a Redis pub/sub subscriber, and an HTTP push handler. The Decoder validates
// each line against the job catalog and drops malformed input.
package ingest
