// Package ws streams the monitor's status snapshot over WebSocket.
//
// The control loop calls Hub.Publish when a window closes or a job goes
// silent or recovers; every client then receives a fresh snapshot labelled
// with that event. A keepalive snapshot follows any quiet period, and a new
// client gets one immediately on connect.
//
// Message format sent to clients:
//
//	{
//	  "seq":   42,
//	  "event": "job_silent",
//	  "jobs":  ["signal-generator"],
//	  "data":  { /* same schema as GET /api/v1/snapshot */ }
//	}
//
// The upgrader accepts all origins. Mounted at /ws/stream by the monitor.
package ws
