// Package telemetry exports the monitor's own health as Prometheus metrics.
//
// Components record through the Sink interface so tests and disabled
// deployments can pass Noop instead of a registry-backed sink.
package telemetry

import "time"

// Sink defines the interface for recording monitor metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Ingestion
	EventIngested(job, status string)
	EventMalformed(source string)
	EventDuplicate(job string)

	// Extraction
	WindowClosed(events int)

	// Heartbeat
	HeartbeatState(job string, silent bool)

	// Alerting
	AlertFiring(policy, outcome string)
	NotificationSent(channel, result string, d time.Duration)
}

// Firing outcomes for AlertFiring.
const (
	OutcomeFired      = "fired"
	OutcomeSuppressed = "suppressed"
)

// Delivery results for NotificationSent.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
	ResultTimeout   = "timeout"
)
