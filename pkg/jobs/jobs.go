// Package jobs implements an in-memory job runner with delayed
// one-shot jobs, repeatable jobs, and per-queue worker pools. It is
// the scheduling substrate for the sync, rotation, reminder, and
// cleanup queues.
package jobs

import (
	"time"
)

// Job is a unit of work delivered to a queue handler.
type Job struct {
	// ID is the stable identity of the job. Two pending jobs with the
	// same ID in the same queue collapse into one.
	ID string

	// Queue names the queue the job was enqueued on.
	Queue string

	// Payload carries the handler's input. Handlers type-assert it.
	Payload interface{}

	// RetryCount is the number of attempts already made.
	RetryCount int

	// RetryLimit is the total number of attempts allowed.
	RetryLimit int

	// RunAt is the earliest time the job may execute.
	RunAt time.Time

	backoff    time.Duration
	maxBackoff time.Duration
}

// Options control a one-shot enqueue.
type Options struct {
	// JobID, when set, deduplicates: an enqueue whose ID matches a
	// pending or running job on the same queue is dropped.
	JobID string

	// Delay postpones the first attempt.
	Delay time.Duration

	// RetryLimit is the total number of attempts. Zero means one
	// attempt with no retries.
	RetryLimit int

	// Backoff is the base delay between attempts. Attempt n waits
	// Backoff * 2^(n-1), capped at MaxBackoff.
	Backoff time.Duration

	// MaxBackoff caps the computed backoff. Zero means no cap.
	MaxBackoff time.Duration
}

// RepeatOptions control a repeatable schedule.
type RepeatOptions struct {
	// JobID is the stable identity of the schedule. Scheduling again
	// with the same ID replaces the previous schedule, and the ID
	// alone is enough to cancel it later.
	JobID string

	// Immediately runs the first occurrence right away instead of
	// waiting one full interval.
	Immediately bool

	// RetryLimit, Backoff and MaxBackoff apply to each occurrence,
	// with the same meaning as on Options. A failed occurrence that
	// exhausts its retries does not cancel the schedule.
	RetryLimit int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// WorkerOptions tune a queue's worker pool.
type WorkerOptions struct {
	// BatchSize is the number of ready jobs claimed per poll.
	BatchSize int

	// WorkerCount is the number of polling goroutines.
	WorkerCount int

	// PollInterval is the idle sleep between polls.
	PollInterval time.Duration
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 1
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	return o
}

// backoffDelay computes the exponential delay before the given attempt
// number (1-based over retries, so attempt 2 is the first retry).
func backoffDelay(base, max time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
