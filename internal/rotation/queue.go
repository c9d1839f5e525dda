package rotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	soerrors "github.com/secretops/secretops/internal/errors"
	"github.com/secretops/secretops/internal/logging"
	"github.com/secretops/secretops/internal/metrics"
	"github.com/secretops/secretops/internal/notify"
	"github.com/secretops/secretops/internal/store"
	"github.com/secretops/secretops/pkg/jobs"
)

// Queue names for rotation work.
const (
	QueueSweep   = "rotation-sweep"
	QueueExecute = "rotation-execute"
	QueueNotify  = "rotation-notify"
)

// sweepScheduleID is the stable ID of the recurring sweep.
const sweepScheduleID = "rotation-sweep"

// Retry tuning for rotation jobs.
const (
	rotateRetryLimit  = 5
	rotateBackoff     = 3 * time.Second
	rotateMaxBackoff  = time.Minute
	notifyRetryLimit  = 5
	notifyBackoff     = 2 * time.Second
	statusMessageMax  = 500
	executeJobPrefix  = "secret-rotation-"
	notifyJobTemplate = "secret-rotation-%s-failed-notifications"
)

// CredentialWriter receives the fresh credentials of a successful
// rotation. The web application's secret store implements this; the
// in-memory writer below serves tests and standalone runs.
type CredentialWriter interface {
	SaveRotatedCredentials(ctx context.Context, rotationID string, creds Credentials) error
}

// MemoryCredentialWriter stores rotated credentials in memory.
type MemoryCredentialWriter struct {
	mu    sync.Mutex
	creds map[string]Credentials
}

// NewMemoryCredentialWriter creates an empty writer.
func NewMemoryCredentialWriter() *MemoryCredentialWriter {
	return &MemoryCredentialWriter{creds: make(map[string]Credentials)}
}

func (w *MemoryCredentialWriter) SaveRotatedCredentials(ctx context.Context, rotationID string, creds Credentials) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.creds[rotationID] = creds
	return nil
}

// Get returns the last saved credentials for a rotation.
func (w *MemoryCredentialWriter) Get(rotationID string) (Credentials, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	creds, ok := w.creds[rotationID]
	return creds, ok
}

// rotateJob is the payload of one rotation execution.
type rotateJob struct {
	RotationID string
	QueuedAt   time.Time
}

// notifyJob carries the rotation snapshot into the notification job
// so it can be delivered even if the record is deleted meanwhile.
type notifyJob struct {
	RotationID              string
	Name                    string
	Strategy                string
	ProjectID               string
	EnvironmentSlug         string
	FolderPath              string
	LastRotationAttemptedAt time.Time
	Message                 string
}

// QueueOptions configure the rotation queue.
type QueueOptions struct {
	// SweepInterval is the cadence of the due-rotation sweep.
	SweepInterval time.Duration

	// DisableOnFailure turns off auto-rotation for a resource after
	// its retries are exhausted, instead of failing again every
	// sweep.
	DisableOnFailure bool

	// SiteURL is the base URL for links in notifications.
	SiteURL string

	// Execute and Notify tune the worker pools. The sweep always
	// runs with a single worker since it only enqueues.
	Execute jobs.WorkerOptions
	Notify  jobs.WorkerOptions
}

// Deps are the collaborators of the rotation queue.
type Deps struct {
	Runner    *jobs.Runner
	Rotators  *Registry
	Rotations store.RotationStore
	Directory store.Directory
	Writer    CredentialWriter
	Mailer    notify.Mailer
	Sink      notify.Sink
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
	Policy    TimeUnitPolicy

	// Now is replaceable for tests. Defaults to time.Now.
	Now func() time.Time
}

// Queue owns the rotation sweep and execution jobs.
type Queue struct {
	deps   Deps
	opts   QueueOptions
	logger *logging.Logger
}

// NewQueue creates the queue and registers its handlers on the
// runner. Call Start to begin sweeping.
func NewQueue(deps Deps, opts QueueOptions) *Queue {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 15 * time.Minute
	}
	if opts.Execute.WorkerCount <= 0 {
		opts.Execute.WorkerCount = 2
	}
	if opts.Notify.WorkerCount <= 0 {
		opts.Notify.WorkerCount = 2
	}

	q := &Queue{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger.Named("rotation-queue"),
	}

	runner := deps.Runner
	runner.Register(QueueSweep, q.handleSweep, nil, jobs.WorkerOptions{WorkerCount: 1})
	runner.Register(QueueExecute, q.handleRotate, q.onRotateFailed, opts.Execute)
	runner.Register(QueueNotify, q.handleNotify, nil, opts.Notify)
	return q
}

// Start registers the recurring sweep. Re-registering after a restart
// replaces the previous schedule instead of duplicating it.
func (q *Queue) Start() error {
	return q.deps.Runner.Schedule(QueueSweep, nil, q.opts.SweepInterval, jobs.RepeatOptions{
		JobID:       sweepScheduleID,
		Immediately: true,
	})
}

// Stop cancels the recurring sweep.
func (q *Queue) Stop() {
	q.deps.Runner.StopRepeatable(sweepScheduleID)
}

// RotateNow enqueues an immediate rotation for one resource,
// deduplicated against any rotation of it already in flight.
func (q *Queue) RotateNow(rotationID string) error {
	_, err := q.deps.Runner.Enqueue(QueueExecute, rotateJob{RotationID: rotationID, QueuedAt: q.deps.Now()}, jobs.Options{
		JobID:      executeJobPrefix + rotationID,
		RetryLimit: rotateRetryLimit,
		Backoff:    rotateBackoff,
		MaxBackoff: rotateMaxBackoff,
	})
	return err
}

// handleSweep finds every rotation due by the policy's boundary and
// enqueues an execution job per resource. The per-resource job ID
// keeps at most one rotation of the same resource in flight.
func (q *Queue) handleSweep(ctx context.Context, job *jobs.Job) error {
	rotateBy := q.deps.Policy.RotateBy(q.deps.Now())
	due, err := q.deps.Rotations.FindDue(ctx, rotateBy)
	if err != nil {
		return fmt.Errorf("failed to query due rotations: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	q.logger.Info("sweep found %d rotations due by %s", len(due), rotateBy.Format(time.RFC3339))
	for _, rec := range due {
		if err := q.RotateNow(rec.ID); err != nil {
			return err
		}
	}
	return nil
}

// handleRotate executes one rotation attempt.
func (q *Queue) handleRotate(ctx context.Context, job *jobs.Job) error {
	payload := job.Payload.(rotateJob)

	rec, err := q.deps.Rotations.FindByID(ctx, payload.RotationID)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted since the sweep. Nothing to do.
		q.logger.Debug("rotation %s no longer exists, skipping", payload.RotationID)
		return nil
	}
	if err != nil {
		return err
	}

	rotator, err := q.deps.Rotators.Get(rec.Strategy)
	if err != nil {
		return soerrors.Unrecoverable(err)
	}

	now := q.deps.Now().UTC()
	rec.LastRotationAttemptedAt = now
	q.deps.Metrics.RotationStartedTotal.WithLabelValues(rec.Strategy).Inc()

	started := time.Now()
	creds, rotateErr := rotator.Rotate(ctx, rec)
	q.deps.Metrics.RotationDuration.WithLabelValues(rec.Strategy).Observe(time.Since(started).Seconds())

	if rotateErr != nil {
		rec.LastRotationMessage = soerrors.Truncate(rotateErr.Error(), statusMessageMax)
		if err := q.deps.Rotations.Update(ctx, rec); err != nil {
			q.logger.Error("failed to persist rotation attempt for %s: %v", rec.ID, err)
		}
		q.logger.Error("rotation %s (%s) attempt failed: %v", rec.ID, rec.Name, rotateErr)
		return rotateErr
	}

	if err := q.deps.Writer.SaveRotatedCredentials(ctx, rec.ID, creds); err != nil {
		return fmt.Errorf("failed to store rotated credentials for %s: %w", rec.ID, err)
	}

	rec.LastRotatedAt = now
	rec.NextRotationAt = now.Add(q.deps.Policy.Interval(rec.IntervalDays))
	rec.IsLastRotationFailed = false
	rec.LastRotationMessage = ""
	if err := q.deps.Rotations.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist rotation %s: %w", rec.ID, err)
	}

	q.deps.Metrics.RotationCompletedTotal.WithLabelValues(rec.Strategy, "success").Inc()
	q.logger.Info("rotation %s (%s) completed, next at %s", rec.ID, rec.Name, rec.NextRotationAt.Format(time.RFC3339))
	return nil
}

// onRotateFailed runs after a rotation's final failed attempt: it
// persists the failed status and enqueues the notification job.
func (q *Queue) onRotateFailed(ctx context.Context, job *jobs.Job, jobErr error) {
	payload := job.Payload.(rotateJob)

	rec, err := q.deps.Rotations.FindByID(ctx, payload.RotationID)
	if err != nil {
		q.logger.Error("rotation %s failed permanently but could not be loaded: %v", payload.RotationID, err)
		return
	}

	rec.IsLastRotationFailed = true
	rec.LastRotationMessage = soerrors.Truncate(jobErr.Error(), statusMessageMax)
	if q.opts.DisableOnFailure && !soerrors.IsRetryable(jobErr) {
		// A recognized transient failure, such as provider
		// throttling, leaves the schedule enabled so the next
		// sweep tries again.
		rec.IsAutoRotationEnabled = false
		q.logger.Warn("auto-rotation disabled for %s after repeated failures", rec.ID)
	}
	if err := q.deps.Rotations.Update(ctx, rec); err != nil {
		q.logger.Error("failed to persist failed rotation %s: %v", rec.ID, err)
	}
	q.deps.Metrics.RotationCompletedTotal.WithLabelValues(rec.Strategy, "failed").Inc()

	_, err = q.deps.Runner.Enqueue(QueueNotify, notifyJob{
		RotationID:              rec.ID,
		Name:                    rec.Name,
		Strategy:                rec.Strategy,
		ProjectID:               rec.ProjectID,
		EnvironmentSlug:         rec.EnvironmentSlug,
		FolderPath:              rec.FolderPath,
		LastRotationAttemptedAt: rec.LastRotationAttemptedAt,
		Message:                 rec.LastRotationMessage,
	}, jobs.Options{
		JobID:      fmt.Sprintf(notifyJobTemplate, rec.ID),
		RetryLimit: notifyRetryLimit,
		Backoff:    notifyBackoff,
	})
	if err != nil {
		q.logger.Error("failed to enqueue failure notification for %s: %v", rec.ID, err)
	}
}

// handleNotify delivers the failure notification to project admins,
// both in-app and by email. Errors propagate so the runner's retry
// policy applies; notification delivery failure must not silently
// disappear.
func (q *Queue) handleNotify(ctx context.Context, job *jobs.Job) error {
	payload := job.Payload.(notifyJob)

	project, err := q.deps.Directory.FindProjectByID(ctx, payload.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to resolve project %s: %w", payload.ProjectID, err)
	}

	members, err := q.deps.Directory.FindAllProjectMembers(ctx, payload.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to list members of %s: %w", payload.ProjectID, err)
	}

	var admins []store.Member
	for _, member := range members {
		if member.Role == store.RoleAdmin {
			admins = append(admins, member)
		}
	}
	if len(admins) == 0 {
		q.logger.Warn("rotation %s failed but project %s has no admins to notify", payload.RotationID, project.Name)
		return nil
	}

	link := fmt.Sprintf("%s/projects/%s/rotations/%s", q.opts.SiteURL, project.ID, payload.RotationID)
	notifications := make([]notify.UserNotification, 0, len(admins))
	recipients := make([]string, 0, len(admins))
	for _, admin := range admins {
		notifications = append(notifications, notify.UserNotification{
			UserID: admin.UserID,
			OrgID:  project.OrgID,
			Type:   notify.TypeRotationFailed,
			Title:  fmt.Sprintf("Rotation %q failed", payload.Name),
			Body:   payload.Message,
			Link:   link,
		})
		recipients = append(recipients, admin.Email)
	}

	if err := q.deps.Sink.CreateUserNotifications(ctx, notifications); err != nil {
		q.logger.Error("failed to create in-app notifications for rotation %s: %v", payload.RotationID, err)
		return err
	}

	err = q.deps.Mailer.SendMail(ctx, notify.Mail{
		Template:    notify.TemplateRotationFailed,
		SubjectLine: fmt.Sprintf("Credential rotation %q failed", payload.Name),
		Recipients:  recipients,
		Substitutions: map[string]string{
			"rotationName":    payload.Name,
			"rotationType":    payload.Strategy,
			"projectName":     project.Name,
			"environment":     payload.EnvironmentSlug,
			"secretPath":      payload.FolderPath,
			"lastAttemptedAt": payload.LastRotationAttemptedAt.Format(time.RFC3339),
			"failureMessage":  payload.Message,
			"rotationUrl":     link,
		},
	})
	if err != nil {
		q.logger.Error("failed to email rotation failure for %s: %v", payload.RotationID, err)
		return err
	}
	return nil
}
