// Package control wires ingestion to the monitor's state machines. Every
// validated event updates the metric extractor, the heartbeat monitor and the
// status store; window closes and heartbeat ticks run on their own timers and
// drive the alert engine.
package control
