// Package cleanup periodically purges expired resources, such as
// spent secret sharing links and stale audit entries, through the
// store.ExpiringStore interface.
package cleanup

import (
	"context"
	"time"

	"github.com/secretops/secretops/internal/logging"
	"github.com/secretops/secretops/internal/metrics"
	"github.com/secretops/secretops/internal/store"
	"github.com/secretops/secretops/pkg/jobs"
)

// QueueName is the job queue cleanup runs on.
const QueueName = "resource-cleanup"

const scheduleID = "resource-cleanup"

// Queue runs the periodic cleanup over a set of expiring stores.
type Queue struct {
	runner   *jobs.Runner
	stores   []store.ExpiringStore
	metrics  *metrics.Metrics
	logger   *logging.Logger
	interval time.Duration
	now      func() time.Time
}

// NewQueue creates the queue and registers its handler on the runner.
// The stores slice is fixed at construction; register every expiring
// resource before starting.
func NewQueue(runner *jobs.Runner, stores []store.ExpiringStore, m *metrics.Metrics, logger *logging.Logger, interval time.Duration, now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	q := &Queue{
		runner:   runner,
		stores:   stores,
		metrics:  m,
		logger:   logger.Named("cleanup"),
		interval: interval,
		now:      now,
	}
	runner.Register(QueueName, q.handleCleanup, nil, jobs.WorkerOptions{WorkerCount: 1})
	return q
}

// Start registers the recurring cleanup. The first pass runs right
// away so a long-down instance catches up on restart.
func (q *Queue) Start() error {
	return q.runner.Schedule(QueueName, nil, q.interval, jobs.RepeatOptions{
		JobID:       scheduleID,
		Immediately: true,
	})
}

// Resources lists the resource kinds the queue sweeps.
func (q *Queue) Resources() []string {
	names := make([]string, 0, len(q.stores))
	for _, s := range q.stores {
		names = append(names, s.Resource())
	}
	return names
}

// Stop cancels the recurring cleanup.
func (q *Queue) Stop() {
	q.runner.StopRepeatable(scheduleID)
}

// handleCleanup sweeps every registered store. A failing store is
// logged and skipped so one bad resource cannot block the rest.
func (q *Queue) handleCleanup(ctx context.Context, job *jobs.Job) error {
	now := q.now().UTC()
	for _, s := range q.stores {
		removed, err := s.DeleteExpired(ctx, now)
		if err != nil {
			q.logger.Error("cleanup of %s failed: %v", s.Resource(), err)
			continue
		}
		if removed > 0 {
			q.metrics.CleanupRemovedTotal.WithLabelValues(s.Resource()).Add(float64(removed))
			q.logger.Info("cleanup removed %d expired %s", removed, s.Resource())
		}
	}
	return nil
}
