package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/resumelab/resume-orchestrator/pkg/core"
	"github.com/resumelab/resume-orchestrator/pkg/schedule"
	"github.com/resumelab/resume-orchestrator/pkg/security"
)

// Handler processes one drained job. A returned error keeps the job queued
// for the next drain until its retry budget runs out.
type Handler func(ctx context.Context, job *core.QueueJob) error

type scheduledJob struct {
	jobType  core.JobType
	payload  any
	schedule schedule.Schedule
	lastRun  time.Time
}

// Queue is the debounced job queue. One instance is shared process-wide;
// its drain timer starts on construction and stops on Close. Queue state is
// never persisted: a crash loses at most one drain interval of saves.
type Queue struct {
	mu         sync.Mutex
	jobs       map[string]*core.QueueJob
	processing bool

	hmu      sync.RWMutex
	handlers map[core.JobType]Handler

	smu       sync.Mutex
	scheduled []*scheduledJob

	cfg    Config
	logger *slog.Logger
	bus    *core.EventBus

	drainNow chan struct{}
	done     chan struct{}
	stopped  sync.Once
	wg       sync.WaitGroup
}

// New creates a queue and starts its drain timer.
func New(opts ...Option) *Queue {
	cfg := Config{
		DrainInterval: DefaultDrainInterval,
		MaxRetries:    DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt.applyQueue(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	q := &Queue{
		jobs:     make(map[string]*core.QueueJob),
		handlers: make(map[core.JobType]Handler),
		cfg:      cfg,
		logger:   cfg.Logger,
		bus:      cfg.Bus,
		drainNow: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	q.wg.Add(1)
	go q.run()
	return q
}

// Register registers the handler for a job type. Registering an empty type
// or a nil handler is a programming error and panics.
func (q *Queue) Register(jobType core.JobType, h Handler) {
	if jobType == "" || h == nil {
		panic(fmt.Sprintf("queue: invalid handler registration for %q", jobType))
	}
	q.hmu.Lock()
	q.handlers[jobType] = h
	q.hmu.Unlock()
}

// Enqueue accepts a job. It returns immediately and has no failure mode
// visible to the caller: the contract is "your save request is accepted",
// never "your save request is committed". If key is set, any pending job
// under the same key is replaced. Enqueueing a MarkCompleted job also
// requests an out-of-band drain so completion becomes visible with low
// latency.
func (q *Queue) Enqueue(jobType core.JobType, payload any, opts ...EnqueueOption) {
	o := EnqueueOptions{MaxRetries: q.cfg.MaxRetries}
	for _, opt := range opts {
		opt.applyEnqueue(&o)
	}

	key := o.Key
	if key == "" {
		key = uuid.New().String()
	} else if err := security.ValidateDebounceKey(key); err != nil {
		q.logger.Warn("rejecting job with invalid debounce key", "job_type", jobType, "error", err)
		return
	}

	job := &core.QueueJob{
		Key:        key,
		Type:       jobType,
		Payload:    payload,
		EnqueuedAt: time.Now(),
		MaxRetries: o.MaxRetries,
	}

	q.mu.Lock()
	closed := q.isClosed()
	if !closed {
		q.jobs[key] = job
	}
	q.mu.Unlock()

	if closed {
		q.logger.Warn("job dropped: queue closed", "job_type", jobType)
		return
	}

	if jobType == core.JobMarkCompleted {
		q.requestDrain()
	}
}

// Schedule registers a recurring job checked on every drain tick. Used for
// maintenance work such as the cleanup sweep.
func (q *Queue) Schedule(jobType core.JobType, payload any, sched schedule.Schedule) {
	q.smu.Lock()
	q.scheduled = append(q.scheduled, &scheduledJob{
		jobType:  jobType,
		payload:  payload,
		schedule: sched,
		lastRun:  time.Now(),
	})
	q.smu.Unlock()
}

// Status returns a snapshot for health checks and tests.
func (q *Queue) Status() core.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := core.QueueStatus{
		Total:      len(q.jobs),
		ByType:     make(map[core.JobType]int),
		Processing: q.processing,
	}
	for _, job := range q.jobs {
		st.ByType[job.Type]++
		if st.OldestAt == nil || job.EnqueuedAt.Before(*st.OldestAt) {
			t := job.EnqueuedAt
			st.OldestAt = &t
		}
	}
	return st
}

// Clear drops all pending jobs without processing them.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.jobs = make(map[string]*core.QueueJob)
	q.mu.Unlock()
}

// ForceDrain runs a drain cycle immediately, bypassing the timer. Intended
// for tests and emergency flushes. Returns the number of jobs processed
// successfully; zero when a drain is already in flight.
func (q *Queue) ForceDrain(ctx context.Context) int {
	processed, _ := q.drain(ctx)
	return processed
}

// Close stops the drain timer. A final drain flushes whatever is queued so
// an orderly shutdown does not lose accepted saves.
func (q *Queue) Close() {
	q.stopped.Do(func() {
		close(q.done)
		q.wg.Wait()
		q.drain(context.Background())
	})
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

func (q *Queue) requestDrain() {
	select {
	case q.drainNow <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.DrainInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-q.done:
			return
		case <-ticker.C:
			q.enqueueDueScheduled()
			q.drain(ctx)
		case <-q.drainNow:
			q.drain(ctx)
		}
	}
}

func (q *Queue) enqueueDueScheduled() {
	q.smu.Lock()
	defer q.smu.Unlock()

	now := time.Now()
	for _, sj := range q.scheduled {
		next := sj.schedule.Next(sj.lastRun)
		if now.After(next) || now.Equal(next) {
			q.Enqueue(sj.jobType, sj.payload)
			sj.lastRun = now
		}
	}
}

// drain processes every job present at drain start, one at a time. The
// single in-flight guard prevents overlapping drains, and sequential
// processing bounds the write rate this subsystem adds to the store.
func (q *Queue) drain(ctx context.Context) (processed, failed int) {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return 0, 0
	}
	q.processing = true
	batch := make([]*core.QueueJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		batch = append(batch, job)
	}
	q.mu.Unlock()

	start := time.Now()
	for _, job := range batch {
		if err := q.process(ctx, job); err != nil {
			failed++
			q.settleFailure(job, err)
		} else {
			processed++
			q.remove(job)
		}
	}

	q.mu.Lock()
	q.processing = false
	q.mu.Unlock()

	if q.bus != nil && len(batch) > 0 {
		q.bus.Publish(&core.DrainFinished{
			Processed: processed,
			Failed:    failed,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		})
	}
	return processed, failed
}

func (q *Queue) process(ctx context.Context, job *core.QueueJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	q.hmu.RLock()
	h, ok := q.handlers[job.Type]
	q.hmu.RUnlock()
	if !ok {
		return fmt.Errorf("queue: no handler registered for %q", job.Type)
	}

	job.Attempts++
	return h(ctx, job)
}

// remove deletes the job unless a newer payload superseded it under the
// same key while the drain was running.
func (q *Queue) remove(job *core.QueueJob) {
	q.mu.Lock()
	if current, ok := q.jobs[job.Key]; ok && current == job {
		delete(q.jobs, job.Key)
	}
	q.mu.Unlock()
}

func (q *Queue) settleFailure(job *core.QueueJob, err error) {
	if job.Attempts >= job.MaxRetries {
		q.remove(job)
		q.logger.Error("job dropped after exhausting retries",
			"job_type", job.Type,
			"attempts", job.Attempts,
			"error", err)
		if q.bus != nil {
			q.bus.Publish(&core.JobDropped{Job: job, Error: err, Timestamp: time.Now()})
		}
		return
	}

	// The job stays queued; the next drain retries it, so retry spacing
	// equals the drain interval.
	q.logger.Warn("job failed, will retry on next drain",
		"job_type", job.Type,
		"attempt", job.Attempts,
		"error", err)
	if q.bus != nil {
		q.bus.Publish(&core.JobRetrying{Job: job, Attempt: job.Attempts, Error: err, Timestamp: time.Now()})
	}
}
