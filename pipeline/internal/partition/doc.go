// Package partition is the pipeline's output store. Every table is keyed by a
// date column and written with Replace: one transaction deletes the date's
// rows and inserts the new set, so rerunning a job for a date overwrites its
// partition instead of appending to it. Concurrent writers for the same date
// resolve last-writer-wins.
//
// Two drivers are supported through database/sql: sqlite3 (mattn/go-sqlite3)
// and postgres (lib/pq). Queries are written with '?' placeholders and
// rebound for postgres. Prices are shopspring/decimal values stored as text.
package partition
