package telemetry

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	eventsIngested  *prometheus.CounterVec
	eventsMalformed *prometheus.CounterVec
	eventsDuplicate *prometheus.CounterVec

	windowsClosed prometheus.Counter
	windowEvents  prometheus.Histogram

	heartbeatSilent *prometheus.GaugeVec

	alertFirings         *prometheus.CounterVec
	notifications        *prometheus.CounterVec
	notificationDuration prometheus.Histogram
}

// NewPrometheusSink creates the collectors and registers them on reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipewatch_events_ingested_total",
			Help: "Validated job events accepted by the monitor.",
		}, []string{"job", "status"}),
		eventsMalformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipewatch_events_malformed_total",
			Help: "Lines rejected at the ingestion boundary.",
		}, []string{"source"}),
		eventsDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipewatch_events_duplicate_total",
			Help: "Replayed (job_name, run_id) pairs ignored within a window.",
		}, []string{"job"}),
		windowsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipewatch_windows_closed_total",
			Help: "Alignment windows closed by the metric extractor.",
		}),
		windowEvents: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipewatch_window_events",
			Help:    "Events counted per closed alignment window.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500},
		}),
		heartbeatSilent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipewatch_heartbeat_silent",
			Help: "1 while a job is past its max silence window, 0 otherwise.",
		}, []string{"job"}),
		alertFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipewatch_alert_firings_total",
			Help: "Alert policy firings by outcome (fired or suppressed by rate limit).",
		}, []string{"policy", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipewatch_notifications_total",
			Help: "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
		notificationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipewatch_notification_duration_seconds",
			Help:    "Latency of a single channel delivery.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}

	s.register(reg, s.eventsIngested, "pipewatch_events_ingested_total")
	s.register(reg, s.eventsMalformed, "pipewatch_events_malformed_total")
	s.register(reg, s.eventsDuplicate, "pipewatch_events_duplicate_total")
	s.register(reg, s.windowsClosed, "pipewatch_windows_closed_total")
	s.register(reg, s.windowEvents, "pipewatch_window_events")
	s.register(reg, s.heartbeatSilent, "pipewatch_heartbeat_silent")
	s.register(reg, s.alertFirings, "pipewatch_alert_firings_total")
	s.register(reg, s.notifications, "pipewatch_notifications_total")
	s.register(reg, s.notificationDuration, "pipewatch_notification_duration_seconds")
	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		slog.Warn("telemetry: failed to register collector", "name", name, "err", err)
	}
}

func (s *PrometheusSink) EventIngested(job, status string) {
	s.eventsIngested.WithLabelValues(job, status).Inc()
}

func (s *PrometheusSink) EventMalformed(source string) {
	s.eventsMalformed.WithLabelValues(source).Inc()
}

func (s *PrometheusSink) EventDuplicate(job string) {
	s.eventsDuplicate.WithLabelValues(job).Inc()
}

func (s *PrometheusSink) WindowClosed(events int) {
	s.windowsClosed.Inc()
	s.windowEvents.Observe(float64(events))
}

func (s *PrometheusSink) HeartbeatState(job string, silent bool) {
	v := 0.0
	if silent {
		v = 1
	}
	s.heartbeatSilent.WithLabelValues(job).Set(v)
}

func (s *PrometheusSink) AlertFiring(policy, outcome string) {
	s.alertFirings.WithLabelValues(policy, outcome).Inc()
}

func (s *PrometheusSink) NotificationSent(channel, result string, d time.Duration) {
	s.notifications.WithLabelValues(channel, result).Inc()
	s.notificationDuration.Observe(d.Seconds())
}
