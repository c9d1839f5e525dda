package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/secretops/secretops/internal/errors"
	"github.com/secretops/secretops/internal/logging"
)

// Handler processes a single job. A nil return acknowledges the job;
// an error return requeues it with backoff until RetryLimit attempts
// are spent, unless the error is marked unrecoverable.
type Handler func(ctx context.Context, job *Job) error

// FailureHandler is invoked once per job after its final failed
// attempt. Queues use it to raise failure notifications.
type FailureHandler func(ctx context.Context, job *Job, err error)

type queue struct {
	name      string
	handler   Handler
	onFailure FailureHandler
	opts      WorkerOptions

	pending []*Job
	running map[string]struct{} // job IDs currently executing
	seq     int
}

// holds reports whether a job with the ID is pending or executing.
func (q *queue) holds(id string) bool {
	if _, ok := q.running[id]; ok {
		return true
	}
	for _, job := range q.pending {
		if job.ID == id {
			return true
		}
	}
	return false
}

type repeatable struct {
	queue      string
	payload    interface{}
	every      time.Duration
	next       time.Time
	retryLimit int
	backoff    time.Duration
	maxBackoff time.Duration
}

// Runner owns a set of named queues and their worker pools. Construct
// with NewRunner; the zero value is not usable.
type Runner struct {
	logger *logging.Logger
	now    func() time.Time

	mu          sync.Mutex
	queues      map[string]*queue
	repeatables map[string]*repeatable // keyed by schedule ID

	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock replaces the runner's time source, primarily for tests.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a runner with no registered queues.
func NewRunner(logger *logging.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		logger:      logger.Named("jobs"),
		now:         time.Now,
		queues:      make(map[string]*queue),
		repeatables: make(map[string]*repeatable),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a queue and binds its handler. Registering a name
// twice replaces the handler but keeps pending jobs. onFailure may be
// nil.
func (r *Runner) Register(name string, handler Handler, onFailure FailureHandler, opts WorkerOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[name]; ok {
		q.handler = handler
		q.onFailure = onFailure
		q.opts = opts.withDefaults()
		return
	}
	r.queues[name] = &queue{
		name:      name,
		handler:   handler,
		onFailure: onFailure,
		opts:      opts.withDefaults(),
		running:   make(map[string]struct{}),
	}
}

// Enqueue adds a one-shot job. It returns the job's ID, which is
// opts.JobID when set and generated otherwise. An enqueue whose ID
// matches a pending or running job on the queue is dropped and the
// existing ID returned.
func (r *Runner) Enqueue(queueName string, payload interface{}, opts Options) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[queueName]
	if !ok {
		return "", fmt.Errorf("enqueue on unregistered queue %q", queueName)
	}

	id := opts.JobID
	if id == "" {
		q.seq++
		id = fmt.Sprintf("%s-%d", queueName, q.seq)
	} else if q.holds(id) {
		r.logger.Debug("dropping duplicate job %s on queue %s", id, queueName)
		return id, nil
	}

	q.pending = append(q.pending, &Job{
		ID:         id,
		Queue:      queueName,
		Payload:    payload,
		RetryLimit: opts.RetryLimit,
		RunAt:      r.now().Add(opts.Delay),
		backoff:    opts.Backoff,
		maxBackoff: opts.MaxBackoff,
	})
	return id, nil
}

// Schedule registers a repeatable job that enqueues an occurrence
// every interval. Scheduling with an existing ID replaces the previous
// schedule, including one on a different queue.
func (r *Runner) Schedule(queueName string, payload interface{}, every time.Duration, opts RepeatOptions) error {
	if opts.JobID == "" {
		return fmt.Errorf("schedule on queue %q requires a stable job ID", queueName)
	}
	if every <= 0 {
		return fmt.Errorf("schedule %q: interval must be positive", opts.JobID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.queues[queueName]; !ok {
		return fmt.Errorf("schedule on unregistered queue %q", queueName)
	}

	next := r.now().Add(every)
	if opts.Immediately {
		next = r.now()
	}
	r.repeatables[opts.JobID] = &repeatable{
		queue:      queueName,
		payload:    payload,
		every:      every,
		next:       next,
		retryLimit: opts.RetryLimit,
		backoff:    opts.Backoff,
		maxBackoff: opts.MaxBackoff,
	}
	return nil
}

// StopRepeatable cancels a repeatable schedule by its ID alone. It is
// a no-op when no such schedule exists, so callers can cancel without
// tracking whether they ever scheduled.
func (r *Runner) StopRepeatable(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.repeatables, jobID)
}

// PendingCount reports jobs waiting or executing on a queue.
func (r *Runner) PendingCount(queueName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[queueName]
	if !ok {
		return 0
	}
	return len(q.pending) + len(q.running)
}

// HasRepeatable reports whether a schedule with the ID exists.
func (r *Runner) HasRepeatable(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.repeatables[jobID]
	return ok
}

// Tick promotes due repeatables and executes every ready job once,
// synchronously on the calling goroutine. It returns the number of
// jobs executed. Workers call this in a loop; tests call it directly
// with a fake clock.
func (r *Runner) Tick(ctx context.Context) int {
	r.promoteRepeatables()

	total := 0
	for {
		executed := 0
		for _, name := range r.queueNames() {
			jobs := r.claim(name, 0)
			for _, job := range jobs {
				r.execute(ctx, job)
				executed++
			}
		}
		if executed == 0 {
			return total
		}
		total += executed
	}
}

// Start launches the worker pools. It returns immediately.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	r.mu.Unlock()

	for _, name := range names {
		r.mu.Lock()
		q := r.queues[name]
		opts := q.opts
		r.mu.Unlock()

		for i := 0; i < opts.WorkerCount; i++ {
			r.wg.Add(1)
			go r.worker(name, opts)
		}
	}

	// One goroutine promotes repeatables for all queues.
	r.wg.Add(1)
	go r.scheduler()
}

// Stop halts the workers and waits for in-flight jobs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	close(r.stop)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Runner) worker(queueName string, opts WorkerOptions) {
	defer r.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		jobs := r.claim(queueName, opts.BatchSize)
		if len(jobs) == 0 {
			select {
			case <-r.stop:
				return
			case <-time.After(opts.PollInterval):
			}
			continue
		}
		for _, job := range jobs {
			r.execute(ctx, job)
		}
	}
}

func (r *Runner) scheduler() {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.promoteRepeatables()
		}
	}
}

// promoteRepeatables enqueues an occurrence for every schedule whose
// next fire time has passed, then advances it.
func (r *Runner) promoteRepeatables() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, rep := range r.repeatables {
		if rep.next.After(now) {
			continue
		}
		q, ok := r.queues[rep.queue]
		if !ok {
			continue
		}
		// Missed intervals collapse into one occurrence.
		for !rep.next.After(now) {
			rep.next = rep.next.Add(rep.every)
		}
		occurrenceID := fmt.Sprintf("%s:occurrence", id)
		if q.holds(occurrenceID) {
			continue
		}
		q.pending = append(q.pending, &Job{
			ID:         occurrenceID,
			Queue:      rep.queue,
			Payload:    rep.payload,
			RetryLimit: rep.retryLimit,
			RunAt:      now,
			backoff:    rep.backoff,
			maxBackoff: rep.maxBackoff,
		})
	}
}

func (r *Runner) queueNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// claim removes up to limit ready jobs from the queue and marks them
// running. limit <= 0 means no limit.
func (r *Runner) claim(queueName string, limit int) []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[queueName]
	if !ok {
		return nil
	}

	now := r.now()
	var claimed []*Job
	remaining := q.pending[:0]
	for _, job := range q.pending {
		if (limit <= 0 || len(claimed) < limit) && !job.RunAt.After(now) {
			claimed = append(claimed, job)
			q.running[job.ID] = struct{}{}
			continue
		}
		remaining = append(remaining, job)
	}
	q.pending = remaining
	return claimed
}

func (r *Runner) execute(ctx context.Context, job *Job) {
	r.mu.Lock()
	q := r.queues[job.Queue]
	handler := q.handler
	onFailure := q.onFailure
	r.mu.Unlock()

	err := r.run(ctx, handler, job)

	r.mu.Lock()
	delete(q.running, job.ID)
	if err == nil {
		r.mu.Unlock()
		return
	}

	job.RetryCount++
	if job.RetryCount < job.RetryLimit && !errors.IsUnrecoverable(err) {
		job.RunAt = r.now().Add(backoffDelay(job.backoff, job.maxBackoff, job.RetryCount))
		q.pending = append(q.pending, job)
		r.mu.Unlock()
		r.logger.Warn("job %s on queue %s failed (attempt %d/%d), retrying: %v",
			job.ID, job.Queue, job.RetryCount, job.RetryLimit, err)
		return
	}
	r.mu.Unlock()

	r.logger.Error("job %s on queue %s failed permanently: %v", job.ID, job.Queue, err)
	if onFailure != nil {
		onFailure(ctx, job, err)
	}
}

// run invokes the handler, converting a panic into an error so one
// bad job cannot take down a worker.
func (r *Runner) run(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, rec)
		}
	}()
	return handler(ctx, job)
}
