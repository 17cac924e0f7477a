package telemetry

import "time"

// Noop is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type Noop struct{}

func (Noop) EventIngested(job, status string)                         {}
func (Noop) EventMalformed(source string)                             {}
func (Noop) EventDuplicate(job string)                                {}
func (Noop) WindowClosed(events int)                                  {}
func (Noop) HeartbeatState(job string, silent bool)                   {}
func (Noop) AlertFiring(policy, outcome string)                       {}
func (Noop) NotificationSent(channel, result string, d time.Duration) {}
