package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the Lockbox backend.
type Metrics struct {
	// Event bus
	EventsPublished *prometheus.CounterVec

	// Push transport
	PushBatches *prometheus.CounterVec
	PushTickets *prometheus.CounterVec

	// Reminder pipeline
	RemindersSent *prometheus.CounterVec

	// Store
	VersionConflicts *prometheus.CounterVec

	// HTTP surface
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		EventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lockbox_events_published_total",
				Help: "Events published to the SNS topic",
			},
			[]string{"kind", "outcome"}, // outcome: ok, error, skipped
		),

		PushBatches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lockbox_push_batches_total",
				Help: "Push notification batches sent to the Expo gateway",
			},
			[]string{"kind", "outcome"}, // kind: shard_received, shard_reminder
		),

		PushTickets: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lockbox_push_tickets_total",
				Help: "Per-recipient push tickets by gateway status",
			},
			[]string{"status"},
		),

		RemindersSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lockbox_reminders_sent_total",
				Help: "Tiered reminders emitted by the sweep",
			},
			[]string{"reminder"}, // 1, 2, 3
		),

		VersionConflicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lockbox_store_version_conflicts_total",
				Help: "Optimistic-concurrency conflicts observed on box writes",
			},
			[]string{"operation"},
		),

		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lockbox_http_request_duration_seconds",
				Help:    "HTTP request latency by route and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
	}
}

// RecordPublish records an event-publish attempt.
func (m *Metrics) RecordPublish(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EventsPublished.WithLabelValues(kind, outcome).Inc()
}

// RecordPushBatch records one batch send and its per-recipient tickets.
func (m *Metrics) RecordPushBatch(kind string, err error, ticketStatuses []string) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.PushBatches.WithLabelValues(kind, outcome).Inc()
	for _, st := range ticketStatuses {
		m.PushTickets.WithLabelValues(st).Inc()
	}
}

// RecordReminder records an emitted reminder by number.
func (m *Metrics) RecordReminder(n int) {
	switch n {
	case 1:
		m.RemindersSent.WithLabelValues("1").Inc()
	case 2:
		m.RemindersSent.WithLabelValues("2").Inc()
	default:
		m.RemindersSent.WithLabelValues("3").Inc()
	}
}

// RecordVersionConflict records a lost optimistic write.
func (m *Metrics) RecordVersionConflict(operation string) {
	m.VersionConflicts.WithLabelValues(operation).Inc()
}
