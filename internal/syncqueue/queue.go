// Package syncqueue runs secret sync, import and removal operations
// as queued jobs, keeping a status trail on the sync record and
// raising failure notifications when an operation runs out of
// retries.
package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/secretops/secretops/internal/destinations"
	soerrors "github.com/secretops/secretops/internal/errors"
	"github.com/secretops/secretops/internal/logging"
	"github.com/secretops/secretops/internal/metrics"
	"github.com/secretops/secretops/internal/notify"
	"github.com/secretops/secretops/internal/store"
	"github.com/secretops/secretops/pkg/jobs"
	"github.com/secretops/secretops/pkg/syncengine"
)

// Queue names for secret sync work.
const (
	QueueSync   = "secret-sync"
	QueueImport = "secret-import"
	QueueRemove = "secret-remove"
	QueueNotify = "secret-sync-notify"
)

// Retry tuning for sync jobs.
const (
	syncRetryLimit    = 5
	syncBackoff       = 3 * time.Second
	syncMaxBackoff    = time.Minute
	notifyRetryLimit  = 5
	notifyBackoff     = 2 * time.Second
	statusMessageMax  = 500
	notifyJobTemplate = "secret-sync-%s-failed-notifications"
)

// operation is a sync record operation with its own status trail.
type operation string

const (
	opSync   operation = "sync"
	opImport operation = "import"
	opRemove operation = "remove"
)

// syncJob is the payload of one sync, import or remove execution.
type syncJob struct {
	SyncID   string
	Op       operation
	Import   syncengine.ImportOptions
	QueuedAt time.Time
}

// notifyJob carries the failure snapshot into the notification job.
type notifyJob struct {
	SyncID          string
	Name            string
	DestinationType string
	ProjectID       string
	EnvironmentSlug string
	Op              operation
	Message         string
}

// QueueOptions configure the sync queue.
type QueueOptions struct {
	// SiteURL is the base URL for links in notifications.
	SiteURL string

	// Workers tunes the pool shared by the sync, import and remove
	// queues. Notifications run on their own pool with the same
	// settings.
	Workers jobs.WorkerOptions
}

// Deps are the collaborators of the sync queue.
type Deps struct {
	Runner      *jobs.Runner
	Engine      *syncengine.Engine
	Registry    *destinations.Registry
	Syncs       store.SyncStore
	Source      SecretSource
	Connections ConnectionResolver
	Directory   store.Directory
	Mailer      notify.Mailer
	Sink        notify.Sink
	Metrics     *metrics.Metrics
	Logger      *logging.Logger

	// Now is replaceable for tests. Defaults to time.Now.
	Now func() time.Time
}

// Queue owns the secret sync job queues.
type Queue struct {
	deps   Deps
	opts   QueueOptions
	logger *logging.Logger
}

// NewQueue creates the queue and registers its handlers on the
// runner.
func NewQueue(deps Deps, opts QueueOptions) *Queue {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	q := &Queue{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger.Named("sync-queue"),
	}

	runner := deps.Runner
	runner.Register(QueueSync, q.handleJob, q.onJobFailed, opts.Workers)
	runner.Register(QueueImport, q.handleJob, q.onJobFailed, opts.Workers)
	runner.Register(QueueRemove, q.handleJob, q.onJobFailed, opts.Workers)
	runner.Register(QueueNotify, q.handleNotify, nil, opts.Workers)
	return q
}

// TriggerSync enqueues a sync of the record's environment to its
// destination. A sync of the same record already in flight absorbs
// the trigger.
func (q *Queue) TriggerSync(syncID string) error {
	return q.trigger(QueueSync, syncJob{SyncID: syncID, Op: opSync, QueuedAt: q.deps.Now()})
}

// TriggerImport enqueues an import of the destination's secrets into
// the record's environment.
func (q *Queue) TriggerImport(syncID string, opts syncengine.ImportOptions) error {
	return q.trigger(QueueImport, syncJob{SyncID: syncID, Op: opImport, Import: opts, QueuedAt: q.deps.Now()})
}

// TriggerRemove enqueues removal of the environment's secrets from
// the destination.
func (q *Queue) TriggerRemove(syncID string) error {
	return q.trigger(QueueRemove, syncJob{SyncID: syncID, Op: opRemove, QueuedAt: q.deps.Now()})
}

func (q *Queue) trigger(queueName string, payload syncJob) error {
	_, err := q.deps.Runner.Enqueue(queueName, payload, jobs.Options{
		JobID:      fmt.Sprintf("%s-%s", queueName, payload.SyncID),
		RetryLimit: syncRetryLimit,
		Backoff:    syncBackoff,
		MaxBackoff: syncMaxBackoff,
	})
	return err
}

// handleJob runs one sync, import or remove attempt.
func (q *Queue) handleJob(ctx context.Context, job *jobs.Job) error {
	payload := job.Payload.(syncJob)

	rec, err := q.deps.Syncs.FindByID(ctx, payload.SyncID)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted since the trigger. Nothing to do.
		q.logger.Debug("sync %s no longer exists, skipping", payload.SyncID)
		return nil
	}
	if err != nil {
		return err
	}

	q.setStatus(ctx, rec, payload.Op, store.StatusRunning, "")
	q.deps.Metrics.SyncRequestsTotal.WithLabelValues(rec.DestinationType, string(payload.Op)).Inc()

	started := time.Now()
	message, opErr := q.runOperation(ctx, rec, payload)
	q.deps.Metrics.SyncDuration.WithLabelValues(rec.DestinationType).Observe(time.Since(started).Seconds())

	if opErr != nil {
		q.setStatus(ctx, rec, payload.Op, store.StatusFailed, soerrors.Truncate(opErr.Error(), statusMessageMax))
		q.deps.Metrics.SyncErrorsTotal.WithLabelValues(rec.DestinationType, string(payload.Op)).Inc()
		q.logger.Error("%s of %s (%s) failed: %v", payload.Op, rec.ID, rec.Name, opErr)
		return opErr
	}

	q.setStatus(ctx, rec, payload.Op, store.StatusSucceeded, message)
	q.logger.Info("%s of %s (%s) completed: %s", payload.Op, rec.ID, rec.Name, message)
	return nil
}

// runOperation dispatches to the engine and returns a status-trail
// message on success.
func (q *Queue) runOperation(ctx context.Context, rec *store.SyncRecord, payload syncJob) (string, error) {
	dest, err := q.destinationFor(ctx, rec)
	if err != nil {
		return "", err
	}

	switch payload.Op {
	case opSync:
		secrets, err := q.deps.Source.GetSecrets(ctx, rec.ProjectID, rec.EnvironmentSlug)
		if err != nil {
			return "", fmt.Errorf("failed to load secrets for %s/%s: %w", rec.ProjectID, rec.EnvironmentSlug, err)
		}
		report, err := q.deps.Engine.SyncSecrets(ctx, dest, secrets)
		if err != nil {
			return "", q.destinationError(rec, payload.Op, err)
		}
		if err := report.Err(); err != nil {
			return "", q.destinationError(rec, payload.Op, err)
		}
		return report.Summary(), nil

	case opImport:
		existing, err := q.deps.Source.GetSecrets(ctx, rec.ProjectID, rec.EnvironmentSlug)
		if err != nil {
			return "", fmt.Errorf("failed to load secrets for %s/%s: %w", rec.ProjectID, rec.EnvironmentSlug, err)
		}
		imported, report, err := q.deps.Engine.ImportSecrets(ctx, dest, existing, payload.Import)
		if err != nil {
			return "", q.destinationError(rec, payload.Op, err)
		}
		if err := report.Err(); err != nil {
			return "", q.destinationError(rec, payload.Op, err)
		}
		if err := q.deps.Source.PutSecrets(ctx, rec.ProjectID, rec.EnvironmentSlug, imported); err != nil {
			return "", fmt.Errorf("failed to store imported secrets: %w", err)
		}
		return report.Summary(), nil

	case opRemove:
		secrets, err := q.deps.Source.GetSecrets(ctx, rec.ProjectID, rec.EnvironmentSlug)
		if err != nil {
			return "", fmt.Errorf("failed to load secrets for %s/%s: %w", rec.ProjectID, rec.EnvironmentSlug, err)
		}
		report, err := q.deps.Engine.RemoveSecrets(ctx, dest, secrets)
		if err != nil {
			return "", q.destinationError(rec, payload.Op, err)
		}
		if err := report.Err(); err != nil {
			return "", q.destinationError(rec, payload.Op, err)
		}
		return report.Summary(), nil

	default:
		return "", soerrors.Unrecoverable(fmt.Errorf("unknown sync operation %q", payload.Op))
	}
}

// destinationError annotates an engine failure with the destination
// type and a remediation hint for the status trail and notification
// mails. Unrecoverable marks on the cause stay visible to the runner
// through the wrapper.
func (q *Queue) destinationError(rec *store.SyncRecord, op operation, err error) error {
	return soerrors.DestinationError(rec.DestinationType, string(op), err)
}

// destinationFor assembles the engine destination from the record's
// stored configuration. An unknown destination type or connection is
// unrecoverable; retrying cannot fix stored configuration.
func (q *Queue) destinationFor(ctx context.Context, rec *store.SyncRecord) (syncengine.Destination, error) {
	adapter, err := q.deps.Registry.Get(rec.DestinationType)
	if err != nil {
		return syncengine.Destination{}, soerrors.Unrecoverable(err)
	}
	creds, err := q.deps.Connections.Resolve(ctx, rec.ConnectionID)
	if err != nil {
		return syncengine.Destination{}, soerrors.Unrecoverable(fmt.Errorf("failed to resolve connection for %s: %w", rec.ID, err))
	}
	return syncengine.Destination{
		Adapter:         adapter,
		Credentials:     creds,
		Config:          rec.DestinationConfig,
		EnvironmentSlug: rec.EnvironmentSlug,
		Options: syncengine.Options{
			DisableSecretDeletion: rec.DisableSecretDeletion,
			KeySchema:             rec.KeySchema,
		},
	}, nil
}

// setStatus persists one operation's status trail on the record.
// Succeeded states also stamp the operation's last-completed time.
func (q *Queue) setStatus(ctx context.Context, rec *store.SyncRecord, op operation, status, message string) {
	now := q.deps.Now().UTC()
	switch op {
	case opSync:
		rec.SyncStatus = status
		rec.LastSyncMessage = message
		if status == store.StatusSucceeded {
			rec.LastSyncedAt = &now
		}
	case opImport:
		rec.ImportStatus = status
		rec.LastImportMessage = message
		if status == store.StatusSucceeded {
			rec.LastImportedAt = &now
		}
	case opRemove:
		rec.RemoveStatus = status
		rec.LastRemoveMessage = message
		if status == store.StatusSucceeded {
			rec.LastRemovedAt = &now
		}
	}
	if err := q.deps.Syncs.Update(ctx, rec); err != nil {
		q.logger.Error("failed to persist %s status of %s: %v", op, rec.ID, err)
	}
}

// onJobFailed runs after the final failed attempt of a sync, import
// or remove job and enqueues the failure notification.
func (q *Queue) onJobFailed(ctx context.Context, job *jobs.Job, jobErr error) {
	payload := job.Payload.(syncJob)

	rec, err := q.deps.Syncs.FindByID(ctx, payload.SyncID)
	if err != nil {
		q.logger.Error("%s of %s failed permanently but the record could not be loaded: %v", payload.Op, payload.SyncID, err)
		return
	}

	message := soerrors.Truncate(jobErr.Error(), statusMessageMax)
	q.setStatus(ctx, rec, payload.Op, store.StatusFailed, message)

	_, err = q.deps.Runner.Enqueue(QueueNotify, notifyJob{
		SyncID:          rec.ID,
		Name:            rec.Name,
		DestinationType: rec.DestinationType,
		ProjectID:       rec.ProjectID,
		EnvironmentSlug: rec.EnvironmentSlug,
		Op:              payload.Op,
		Message:         message,
	}, jobs.Options{
		JobID:      fmt.Sprintf(notifyJobTemplate, rec.ID),
		RetryLimit: notifyRetryLimit,
		Backoff:    notifyBackoff,
	})
	if err != nil {
		q.logger.Error("failed to enqueue failure notification for %s: %v", rec.ID, err)
	}
}

// handleNotify delivers the failure notification to project admins.
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
		q.logger.Warn("sync %s failed but project %s has no admins to notify", payload.SyncID, project.Name)
		return nil
	}

	link := fmt.Sprintf("%s/projects/%s/syncs/%s", q.opts.SiteURL, project.ID, payload.SyncID)
	notifications := make([]notify.UserNotification, 0, len(admins))
	recipients := make([]string, 0, len(admins))
	for _, admin := range admins {
		notifications = append(notifications, notify.UserNotification{
			UserID: admin.UserID,
			OrgID:  project.OrgID,
			Type:   notify.TypeSyncFailed,
			Title:  fmt.Sprintf("Secret %s %q failed", payload.Op, payload.Name),
			Body:   payload.Message,
			Link:   link,
		})
		recipients = append(recipients, admin.Email)
	}

	if err := q.deps.Sink.CreateUserNotifications(ctx, notifications); err != nil {
		q.logger.Error("failed to create in-app notifications for sync %s: %v", payload.SyncID, err)
		return err
	}

	err = q.deps.Mailer.SendMail(ctx, notify.Mail{
		Template:    notify.TemplateSyncFailed,
		SubjectLine: fmt.Sprintf("Secret sync %q failed", payload.Name),
		Recipients:  recipients,
		Substitutions: map[string]string{
			"syncName":       payload.Name,
			"destination":    payload.DestinationType,
			"projectName":    project.Name,
			"environment":    payload.EnvironmentSlug,
			"failureMessage": payload.Message,
			"syncUrl":        link,
		},
	})
	if err != nil {
		q.logger.Error("failed to email sync failure for %s: %v", payload.SyncID, err)
		return err
	}
	return nil
}
