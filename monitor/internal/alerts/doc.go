// Package alerts implements the alert policy engine. Threshold policies are
// evaluated against closed counter windows; absence policies against
// heartbeat SILENT transitions. Each policy carries its own rate limit, and
// firings are handed to the notification registry for delivery.
package alerts
