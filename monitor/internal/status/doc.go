// Package status keeps the in-memory operational view served by the API:
// the latest run of every job and the data-quality results per check date.
// DQ records older than the retention are evicted by a background loop.
package status
