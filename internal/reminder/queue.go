// Package reminder delivers recurring secret reminder emails, used
// for secrets that need manual attention on a schedule (expiring API
// keys, certificates, credentials rotated by hand).
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/secretops/secretops/internal/logging"
	"github.com/secretops/secretops/internal/metrics"
	"github.com/secretops/secretops/internal/notify"
	"github.com/secretops/secretops/internal/rotation"
	"github.com/secretops/secretops/internal/store"
	"github.com/secretops/secretops/pkg/jobs"
)

// QueueName is the job queue reminders run on.
const QueueName = "secret-reminder"

const reminderJobPrefix = "reminder-"

// reminderJob is the payload of one recurring reminder.
type reminderJob struct {
	SecretID  string
	ProjectID string
	Note      string
}

// Queue schedules and delivers secret reminders.
type Queue struct {
	runner    *jobs.Runner
	directory store.Directory
	mailer    notify.Mailer
	metrics   *metrics.Metrics
	logger    *logging.Logger
	policy    rotation.TimeUnitPolicy
}

// NewQueue creates the queue and registers its handler on the runner.
func NewQueue(runner *jobs.Runner, directory store.Directory, mailer notify.Mailer, m *metrics.Metrics, logger *logging.Logger, policy rotation.TimeUnitPolicy, workers jobs.WorkerOptions) *Queue {
	q := &Queue{
		runner:    runner,
		directory: directory,
		mailer:    mailer,
		metrics:   m,
		logger:    logger.Named("reminder"),
		policy:    policy,
	}
	runner.Register(QueueName, q.handleReminder, nil, workers)
	return q
}

func reminderJobID(secretID string) string {
	return reminderJobPrefix + secretID
}

// AddToQueue registers the recurring reminder for a secret. Calling
// it again for the same secret replaces the existing schedule, so
// changing a reminder's cadence or note never needs a separate
// removal first.
func (q *Queue) AddToQueue(secretID, projectID string, repeatDays int, note string) error {
	if repeatDays <= 0 {
		return fmt.Errorf("reminder for secret %s needs a positive repeat interval, got %d", secretID, repeatDays)
	}
	return q.runner.Schedule(QueueName, reminderJob{
		SecretID:  secretID,
		ProjectID: projectID,
		Note:      note,
	}, q.policy.Interval(repeatDays), jobs.RepeatOptions{
		JobID:       reminderJobID(secretID),
		Immediately: true,
		RetryLimit:  3,
		Backoff:     5 * time.Second,
		MaxBackoff:  time.Minute,
	})
}

// RemoveFromQueue cancels the reminder for a secret. The secret ID is
// all that is needed; removing an unknown reminder is a no-op.
func (q *Queue) RemoveFromQueue(secretID string) {
	q.runner.StopRepeatable(reminderJobID(secretID))
}

// handleReminder emails every member of the secret's project. A
// project or organization that no longer exists ends the reminder
// quietly instead of erroring forever on each recurrence.
func (q *Queue) handleReminder(ctx context.Context, job *jobs.Job) error {
	payload := job.Payload.(reminderJob)

	project, err := q.directory.FindProjectByID(ctx, payload.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		q.logger.Warn("project %s for reminder %s no longer exists, cancelling reminder", payload.ProjectID, payload.SecretID)
		q.RemoveFromQueue(payload.SecretID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve project %s: %w", payload.ProjectID, err)
	}

	org, err := q.directory.FindOrgByProjectID(ctx, payload.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		q.logger.Warn("organization of project %s for reminder %s no longer exists, cancelling reminder", payload.ProjectID, payload.SecretID)
		q.RemoveFromQueue(payload.SecretID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve organization of project %s: %w", payload.ProjectID, err)
	}

	members, err := q.directory.FindAllProjectMembers(ctx, payload.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to list members of %s: %w", payload.ProjectID, err)
	}
	if len(members) == 0 {
		q.logger.Warn("project %s has no members to remind", project.Name)
		return nil
	}

	recipients := make([]string, 0, len(members))
	for _, member := range members {
		recipients = append(recipients, member.Email)
	}

	err = q.mailer.SendMail(ctx, notify.Mail{
		Template:    notify.TemplateSecretReminder,
		SubjectLine: fmt.Sprintf("Reminder: a secret in %s needs attention", project.Name),
		Recipients:  recipients,
		Substitutions: map[string]string{
			"projectName":      project.Name,
			"organizationName": org.Name,
			"note":             payload.Note,
		},
	})
	if err != nil {
		q.metrics.RemindersSentTotal.WithLabelValues("failed").Inc()
		return err
	}

	q.metrics.RemindersSentTotal.WithLabelValues("sent").Inc()
	q.logger.Debug("sent reminder for secret %s to %d members of %s", payload.SecretID, len(recipients), project.Name)
	return nil
}
