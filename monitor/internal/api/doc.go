// Package api implements the monitor's HTTP status API.
//
// New(deps) returns an http.Handler that serves:
//
//	GET  /api/v1/health          overall state, healthy/silent counts, malformed count
//	GET  /api/v1/jobs            every job: last run, heartbeat state, diagnostics
//	GET  /api/v1/jobs/{name}     single job; 404 if unknown
//	GET  /api/v1/dq              DQ results per check date (?date=YYYY-MM-DD)
//	GET  /api/v1/windows/latest  counters of the latest closed window; 404 before the first close
//	GET  /api/v1/alerts          alert audit history, newest first
//	GET  /api/v1/policies        configured alert policies
//	GET  /api/v1/snapshot        health + jobs + latest window in one document
//	POST /api/v1/events          event push (when enabled)
//	GET  /metrics                Prometheus exposition
//	GET  /ws/stream              WebSocket status stream
//
// JSON endpoints respond with Content-Type: application/json and return 405
// for other methods. JSON types are defined in types.go.
package api
