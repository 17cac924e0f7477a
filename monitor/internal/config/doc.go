// Package config loads the monitor configuration from the `monitor:` section
// of a YAML file (other top-level keys are ignored by the monitor binary).
//
// Config fields:
//   - HTTPPort: status API, event push, /metrics and /ws/stream (default 8080)
//   - Window: metric extractor alignment period (default 300s)
//   - HeartbeatTick: absence check interval (default 60s)
//   - DQJob: job whose WARN events count as dq_fail (default dq-checker)
//   - Jobs: known job names and their max_silence windows
//   - Ingest: file tailer, Redis subscriber and HTTP push sources
//   - SMTP, Channels: notification delivery targets
//   - Policies: alert policies referencing channels by id
//
// Load(path) applies defaults before unmarshalling, then validates. A policy
// that references an undefined channel is a load error.
//
// Watch(ctx, path, onChange) uses fsnotify to report edits to the file. The
// monitor treats its configuration as immutable and only logs that a restart
// is required.
package config
