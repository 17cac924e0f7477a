// Package notify holds the notification channel registry and its senders.
// Channels (email, webhook) are built once from configuration. Delivery is
// fire-and-forget per channel with a bounded timeout; a failing channel is
// logged and never retried here.
package notify
