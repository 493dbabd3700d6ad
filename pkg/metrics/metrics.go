package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Dispute lifecycle metrics
	DisputesCreated   prometheus.Counter
	DisputesEscalated prometheus.Counter
	DisputesResolved  *prometheus.CounterVec

	// Notification metrics
	NotificationsCreated          prometheus.Counter
	NotificationSends             *prometheus.CounterVec
	NotificationProcessingLatency prometheus.Histogram

	// Reminder sweep metrics
	RemindersCreated     prometheus.Counter
	ReminderSweepLatency prometheus.Histogram
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		DisputesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disputes_created_total",
			Help:      "Total number of disputes created",
		}),
		DisputesEscalated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disputes_escalated_total",
			Help:      "Total number of dispute escalations",
		}),
		DisputesResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disputes_resolved_total",
			Help:      "Total number of disputes entering a terminal status",
		}, []string{"status"}),

		NotificationsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "Total number of notifications created",
		}),
		NotificationSends: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_sends_total",
			Help:      "Channel delivery attempts by outcome",
		}, []string{"channel", "status"}),
		NotificationProcessingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_processing_duration_seconds",
			Help:      "Time spent delivering a notification across its channels",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		RemindersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_created_total",
			Help:      "Total number of reminder notifications created by the sweep",
		}),
		ReminderSweepLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reminder_sweep_duration_seconds",
			Help:      "Time spent per reminder sweep run",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
	}
}
