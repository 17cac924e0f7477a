// Package trigger is the HTTP invocation boundary of the pipeline.
//
//	POST /jobs/{name}   body {"date":"YYYY-MM-DD"} (optional; default today)
//	GET  /jobs          implemented job names
//	GET  /healthz
//	GET  /metrics       when a metrics handler is supplied
//
// A run answers 200 with its run id and status when the job ends OK or WARN,
// and 500 with the same body when it ends ERROR. "Today" is evaluated in the
// configured time zone.
package trigger
