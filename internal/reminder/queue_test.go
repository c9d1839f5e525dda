package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secretops/secretops/internal/logging"
	"github.com/secretops/secretops/internal/metrics"
	"github.com/secretops/secretops/internal/notify"
	"github.com/secretops/secretops/internal/rotation"
	"github.com/secretops/secretops/internal/store"
	"github.com/secretops/secretops/pkg/jobs"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingMailer struct {
	mu    sync.Mutex
	mails []notify.Mail
	err   error
}

func (m *recordingMailer) SendMail(ctx context.Context, mail notify.Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.mails = append(m.mails, mail)
	return nil
}

func (m *recordingMailer) sent() []notify.Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Mail(nil), m.mails...)
}

type fixture struct {
	clock     *fakeClock
	runner    *jobs.Runner
	queue     *Queue
	directory *store.MemoryDirectory
	mailer    *recordingMailer
	metrics   *metrics.Metrics
	project   store.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := logging.New(false, true)
	clock := newFakeClock()
	f := &fixture{
		clock:     clock,
		runner:    jobs.NewRunner(logger, jobs.WithClock(clock.Now)),
		directory: store.NewMemoryDirectory(),
		mailer:    &recordingMailer{},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}

	org := f.directory.AddOrganization(store.Organization{Name: "Acme"})
	f.project = f.directory.AddProject(store.Project{Name: "payments", OrgID: org.ID})
	f.directory.AddMember(f.project.ID, store.Member{UserID: "u-1", Email: "one@acme.test", Role: store.RoleAdmin})
	f.directory.AddMember(f.project.ID, store.Member{UserID: "u-2", Email: "two@acme.test", Role: store.RoleMember})

	f.queue = NewQueue(f.runner, f.directory, f.mailer, f.metrics, logger, rotation.SecondPolicy{}, jobs.WorkerOptions{})
	return f
}

func TestReminderEmailsAllProjectMembers(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.queue.AddToQueue("sec-1", f.project.ID, 7, "rotate the Stripe key"))

	// Immediately scheduled, so the first reminder fires on the
	// next tick.
	f.runner.Tick(context.Background())

	mails := f.mailer.sent()
	require.Len(t, mails, 1)
	assert.Equal(t, notify.TemplateSecretReminder, mails[0].Template)
	assert.ElementsMatch(t, []string{"one@acme.test", "two@acme.test"}, mails[0].Recipients)
	assert.Equal(t, "rotate the Stripe key", mails[0].Substitutions["note"])
	assert.Equal(t, "payments", mails[0].Substitutions["projectName"])
	assert.Equal(t, "Acme", mails[0].Substitutions["organizationName"])

	sent := testutil.ToFloat64(f.metrics.RemindersSentTotal.WithLabelValues("sent"))
	assert.Equal(t, 1.0, sent)
}

func TestReminderRecursOnInterval(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.queue.AddToQueue("sec-1", f.project.ID, 7, ""))

	f.runner.Tick(context.Background())
	require.Len(t, f.mailer.sent(), 1)

	// One second per configured day under the development policy.
	f.clock.Advance(7 * time.Second)
	f.runner.Tick(context.Background())
	assert.Len(t, f.mailer.sent(), 2)
}

func TestAddToQueueReplacesExistingSchedule(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.queue.AddToQueue("sec-1", f.project.ID, 7, "old note"))
	require.NoError(t, f.queue.AddToQueue("sec-1", f.project.ID, 14, "new note"))

	f.runner.Tick(context.Background())

	mails := f.mailer.sent()
	require.Len(t, mails, 1)
	assert.Equal(t, "new note", mails[0].Substitutions["note"])
}

func TestAddToQueueRejectsNonPositiveInterval(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.queue.AddToQueue("sec-1", f.project.ID, 0, ""))
	assert.Error(t, f.queue.AddToQueue("sec-1", f.project.ID, -3, ""))
}

func TestRemoveFromQueueBySecretIDAlone(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.queue.AddToQueue("sec-1", f.project.ID, 7, ""))

	f.queue.RemoveFromQueue("sec-1")
	f.runner.Tick(context.Background())
	assert.Empty(t, f.mailer.sent())

	// Unknown reminders are a no-op.
	f.queue.RemoveFromQueue("sec-unknown")
}

func TestReminderForDeletedProjectCancelsItself(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.queue.AddToQueue("sec-1", "p-gone", 7, ""))

	f.runner.Tick(context.Background())
	assert.Empty(t, f.mailer.sent())
	assert.False(t, f.runner.HasRepeatable(reminderJobID("sec-1")))
}

func TestReminderForDeletedOrganizationCancelsItself(t *testing.T) {
	f := newFixture(t)
	orphan := f.directory.AddProject(store.Project{Name: "orphaned", OrgID: "org-gone"})
	f.directory.AddMember(orphan.ID, store.Member{UserID: "u-3", Email: "three@acme.test", Role: store.RoleAdmin})
	require.NoError(t, f.queue.AddToQueue("sec-2", orphan.ID, 7, ""))

	f.runner.Tick(context.Background())
	assert.Empty(t, f.mailer.sent())
	// The missing organization is permanent, so the occurrence must
	// not be parked for a retry.
	assert.Equal(t, 0, f.runner.PendingCount(QueueName))
	assert.False(t, f.runner.HasRepeatable(reminderJobID("sec-2")))
}

func TestReminderMailFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = context.DeadlineExceeded
	require.NoError(t, f.queue.AddToQueue("sec-1", f.project.ID, 7, ""))

	f.runner.Tick(context.Background())
	failed := testutil.ToFloat64(f.metrics.RemindersSentTotal.WithLabelValues("failed"))
	assert.Equal(t, 1.0, failed)
	assert.Equal(t, 1, f.runner.PendingCount(QueueName))
}
