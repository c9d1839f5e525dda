// Package metrics defines the Prometheus instrumentation shared by
// the queues. Metrics are registered against an injected registerer
// so tests can use an isolated registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors recorded by the sync, rotation,
// reminder, and cleanup queues.
type Metrics struct {
	SyncRequestsTotal *prometheus.CounterVec
	SyncErrorsTotal   *prometheus.CounterVec
	SyncDuration      *prometheus.HistogramVec

	RotationStartedTotal   *prometheus.CounterVec
	RotationCompletedTotal *prometheus.CounterVec
	RotationDuration       *prometheus.HistogramVec

	RemindersSentTotal *prometheus.CounterVec

	CleanupRemovedTotal *prometheus.CounterVec
}

// New registers the collectors with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SyncRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretops_sync_requests_total",
				Help: "Total number of sync, import, and remove operations started",
			},
			[]string{"destination", "operation"},
		),
		SyncErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretops_sync_errors_total",
				Help: "Total number of sync, import, and remove operations that failed",
			},
			[]string{"destination", "operation"},
		),
		SyncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secretops_sync_duration_seconds",
				Help:    "Duration of sync operations in seconds",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"destination"},
		),
		RotationStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretops_rotation_started_total",
				Help: "Total number of credential rotations started",
			},
			[]string{"strategy"},
		),
		RotationCompletedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretops_rotation_completed_total",
				Help: "Total number of credential rotations completed",
			},
			[]string{"strategy", "status"},
		),
		RotationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secretops_rotation_duration_seconds",
				Help:    "Duration of credential rotations in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120},
			},
			[]string{"strategy"},
		),
		RemindersSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretops_reminders_sent_total",
				Help: "Total number of secret reminder notifications sent",
			},
			[]string{"status"},
		),
		CleanupRemovedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretops_cleanup_removed_total",
				Help: "Total number of expired resources removed by the cleanup scheduler",
			},
			[]string{"resource"},
		),
	}
}
