package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/secretops/secretops/internal/errors"
	"github.com/secretops/secretops/internal/logging"
)

// fakeClock is a manually advanced time source.
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

func testRunner(clock *fakeClock) *Runner {
	return NewRunner(logging.New(false, true), WithClock(clock.Now))
}

func TestEnqueueAndTick(t *testing.T) {
	clock := newFakeClock()
	runner := testRunner(clock)

	var got []string
	runner.Register("work", func(ctx context.Context, job *Job) error {
		got = append(got, job.Payload.(string))
		return nil
	}, nil, WorkerOptions{})

	if _, err := runner.Enqueue("work", "a", Options{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := runner.Enqueue("work", "b", Options{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if n := runner.Tick(context.Background()); n != 2 {
		t.Fatalf("Tick executed %d jobs, want 2", n)
	}
	if len(got) != 2 {
		t.Fatalf("handler saw %v", got)
	}
	if runner.PendingCount("work") != 0 {
		t.Errorf("queue not drained")
	}
}

func TestEnqueueUnregisteredQueue(t *testing.T) {
	runner := testRunner(newFakeClock())
	if _, err := runner.Enqueue("nope", nil, Options{}); err == nil {
		t.Fatal("expected error for unregistered queue")
	}
}

func TestDelayedJobWaitsForRunAt(t *testing.T) {
	clock := newFakeClock()
	runner := testRunner(clock)

	ran := 0
	runner.Register("work", func(ctx context.Context, job *Job) error {
		ran++
		return nil
	}, nil, WorkerOptions{})

	if _, err := runner.Enqueue("work", nil, Options{Delay: 10 * time.Second}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if n := runner.Tick(context.Background()); n != 0 {
		t.Fatalf("delayed job ran early")
	}

	clock.Advance(10 * time.Second)
	if n := runner.Tick(context.Background()); n != 1 {
		t.Fatalf("delayed job did not run after delay, executed %d", n)
	}
	if ran != 1 {
		t.Errorf("handler ran %d times", ran)
	}
}

func TestJobIDDeduplication(t *testing.T) {
	clock := newFakeClock()
	runner := testRunner(clock)

	ran := 0
	runner.Register("work", func(ctx context.Context, job *Job) error {
		ran++
		return nil
	}, nil, WorkerOptions{})

	id1, _ := runner.Enqueue("work", nil, Options{JobID: "sync-123", Delay: time.Minute})
	id2, _ := runner.Enqueue("work", nil, Options{JobID: "sync-123", Delay: time.Minute})

	if id1 != id2 {
		t.Errorf("duplicate enqueue returned new id %q, want %q", id2, id1)
	}

	clock.Advance(time.Minute)
	runner.Tick(context.Background())
	if ran != 1 {
		t.Errorf("deduplicated job ran %d times, want 1", ran)
	}
}

func TestRetryWithExponentialBackoff(t *testing.T) {
	clock := newFakeClock()
	runner := testRunner(clock)

	var attempts []time.Time
	runner.Register("work", func(ctx context.Context, job *Job) error {
		attempts = append(attempts, clock.Now())
		return fmt.Errorf("transient failure")
	}, nil, WorkerOptions{})

	if _, err := runner.Enqueue("work", nil, Options{RetryLimit: 3, Backoff: 2 * time.Second}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	runner.Tick(context.Background())
	if len(attempts) != 1 {
		t.Fatalf("want 1 attempt, got %d", len(attempts))
	}

	// First retry at +2s.
	clock.Advance(time.Second)
	runner.Tick(context.Background())
	if len(attempts) != 1 {
		t.Fatalf("retry fired before backoff elapsed")
	}
	clock.Advance(time.Second)
	runner.Tick(context.Background())
	if len(attempts) != 2 {
		t.Fatalf("want 2 attempts after 2s backoff, got %d", len(attempts))
	}

	// Second retry at +4s.
	clock.Advance(4 * time.Second)
	runner.Tick(context.Background())
	if len(attempts) != 3 {
		t.Fatalf("want 3 attempts, got %d", len(attempts))
	}

	// Retries spent; nothing further.
	clock.Advance(time.Hour)
	runner.Tick(context.Background())
	if len(attempts) != 3 {
		t.Fatalf("job ran past retry limit: %d attempts", len(attempts))
	}
}

func TestBackoffCap(t *testing.T) {
	if d := backoffDelay(time.Second, 5*time.Second, 10); d != 5*time.Second {
		t.Errorf("capped backoff = %v, want 5s", d)
	}
	if d := backoffDelay(time.Second, 0, 3); d != 4*time.Second {
		t.Errorf("uncapped backoff = %v, want 4s", d)
	}
	if d := backoffDelay(0, 0, 3); d != 0 {
		t.Errorf("zero base backoff = %v, want 0", d)
	}
}

func TestUnrecoverableErrorSkipsRetries(t *testing.T) {
	clock := newFakeClock()
	runner := testRunner(clock)

	ran := 0
	var failedJob *Job
	var failedErr error
	runner.Register("work", func(ctx context.Context, job *Job) error {
		ran++
		return errors.Unrecoverable(fmt.Errorf("bad credentials"))
	}, func(ctx context.Context, job *Job, err error) {
		failedJob = job
		failedErr = err
	}, WorkerOptions{})

	if _, err := runner.Enqueue("work", nil, Options{RetryLimit: 5, Backoff: time.Second}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	runner.Tick(context.Background())
	clock.Advance(time.Hour)
	runner.Tick(context.Background())

	if ran != 1 {
		t.Errorf("unrecoverable job ran %d times, want 1", ran)
	}
	if failedJob == nil || failedErr == nil {
		t.Fatal("failure handler not invoked")
	}
}

func TestFailureHandlerAfterRetriesExhausted(t *testing.T) {
	clock := newFakeClock()
	runner := testRunner(clock)

	failures := 0
	runner.Register("work", func(ctx context.Context, job *Job) error {
		return fmt.Errorf("still broken")
	}, func(ctx context.Context, job *Job, err error) {
		failures++
	}, WorkerOptions{})

	if _, err := runner.Enqueue("work", nil, Options{RetryLimit: 2}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	runner.Tick(context.Background())
	if failures != 1 {
		t.Errorf("failure handler invoked %d times, want exactly 1", failures)
	}
}

func TestRepeatableSchedule(t *testing.T) {
	clock := newFakeClock()
	runner := testRunner(clock)

	ran := 0
	runner.Register("sweep", func(ctx context.Context, job *Job) error {
		ran++
		return nil
	}, nil, WorkerOptions{})

	if err := runner.Schedule("sweep", nil, time.Minute, RepeatOptions{JobID: "sweep-schedule"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// Not immediate: nothing fires before one interval.
	runner.Tick(context.Background())
	if ran != 0 {
		t.Fatal("non-immediate schedule fired early")
	}

	clock.Advance(time.Minute)
	runner.Tick(context.Background())
	if ran != 1 {
		t.Fatalf("ran = %d after first interval, want 1", ran)
	}

	clock.Advance(time.Minute)
	runner.Tick(context.Background())
	if ran != 2 {
		t.Fatalf("ran = %d after second interval, want 2", ran)
	}
}

func TestRepeatableImmediately(t *testing.T) {
	clock := newFakeClock()
	runner := testRunner(clock)

	ran := 0
	runner.Register("sweep", func(ctx context.Context, job *Job) error {
		ran++
		return nil
	}, nil, WorkerOptions{})

	if err := runner.Schedule("sweep", nil, time.Minute, RepeatOptions{JobID: "s", Immediately: true}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	runner.Tick(context.Background())
	if ran != 1 {
		t.Fatalf("immediate schedule did not fire on first tick, ran = %d", ran)
	}
}

func TestRepeatableOccurrenceRetries(t *testing.T) {
	clock := newFakeClock()
	runner := testRunner(clock)

	ran := 0
	runner.Register("sweep", func(ctx context.Context, job *Job) error {
		ran++
		if ran < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	}, nil, WorkerOptions{})

	err := runner.Schedule("sweep", nil, time.Hour, RepeatOptions{
		JobID:       "s",
		Immediately: true,
		RetryLimit:  3,
		Backoff:     time.Second,
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	runner.Tick(context.Background())
	if ran != 1 {
		t.Fatalf("ran = %d after first tick, want 1", ran)
	}

	clock.Advance(time.Second)
	runner.Tick(context.Background())
	if ran != 2 {
		t.Fatalf("ran = %d after first retry, want 2", ran)
	}

	clock.Advance(2 * time.Second)
	runner.Tick(context.Background())
	if ran != 3 {
		t.Fatalf("ran = %d after second retry, want 3", ran)
	}

	// Succeeded; the schedule itself survives for the next interval.
	if !runner.HasRepeatable("s") {
		t.Fatal("schedule gone after occurrence retries")
	}
}

func TestScheduleReplacesExisting(t *testing.T) {
	clock := newFakeClock()
	runner := testRunner(clock)

	var got []string
	handler := func(ctx context.Context, job *Job) error {
		got = append(got, job.Payload.(string))
		return nil
	}
	runner.Register("sweep", handler, nil, WorkerOptions{})

	if err := runner.Schedule("sweep", "old", time.Hour, RepeatOptions{JobID: "s"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := runner.Schedule("sweep", "new", time.Minute, RepeatOptions{JobID: "s"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	clock.Advance(time.Minute)
	runner.Tick(context.Background())

	if len(got) != 1 || got[0] != "new" {
		t.Fatalf("got %v, want the replacement payload once", got)
	}
}

func TestStopRepeatableByIDAlone(t *testing.T) {
	clock := newFakeClock()
	runner := testRunner(clock)

	ran := 0
	runner.Register("sweep", func(ctx context.Context, job *Job) error {
		ran++
		return nil
	}, nil, WorkerOptions{})

	if err := runner.Schedule("sweep", nil, time.Minute, RepeatOptions{JobID: "rotation-42"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !runner.HasRepeatable("rotation-42") {
		t.Fatal("schedule not registered")
	}

	// Cancellation needs only the ID, not the interval or payload.
	runner.StopRepeatable("rotation-42")
	if runner.HasRepeatable("rotation-42") {
		t.Fatal("schedule survived StopRepeatable")
	}

	clock.Advance(time.Hour)
	runner.Tick(context.Background())
	if ran != 0 {
		t.Errorf("cancelled schedule still fired %d times", ran)
	}

	// Cancelling a never-scheduled ID is a no-op.
	runner.StopRepeatable("never-existed")
}

func TestMissedIntervalsCollapse(t *testing.T) {
	clock := newFakeClock()
	runner := testRunner(clock)

	ran := 0
	runner.Register("sweep", func(ctx context.Context, job *Job) error {
		ran++
		return nil
	}, nil, WorkerOptions{})

	if err := runner.Schedule("sweep", nil, time.Minute, RepeatOptions{JobID: "s"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	clock.Advance(10 * time.Minute)
	runner.Tick(context.Background())
	if ran != 1 {
		t.Errorf("missed intervals produced %d occurrences, want 1", ran)
	}
}

func TestPanicInHandlerIsContained(t *testing.T) {
	clock := newFakeClock()
	runner := testRunner(clock)

	failed := false
	runner.Register("work", func(ctx context.Context, job *Job) error {
		panic("boom")
	}, func(ctx context.Context, job *Job, err error) {
		failed = true
	}, WorkerOptions{})

	if _, err := runner.Enqueue("work", nil, Options{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	runner.Tick(context.Background())
	if !failed {
		t.Error("panicking job did not reach the failure handler")
	}
}

func TestStartAndStopWorkers(t *testing.T) {
	runner := NewRunner(logging.New(false, true))

	done := make(chan struct{})
	runner.Register("work", func(ctx context.Context, job *Job) error {
		close(done)
		return nil
	}, nil, WorkerOptions{PollInterval: 5 * time.Millisecond})

	if _, err := runner.Enqueue("work", nil, Options{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	runner.Start()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not pick up the job")
	}
	runner.Stop()
}
