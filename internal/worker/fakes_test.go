package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/apperr"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/entity"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/remote"
)

// fakeJobRepo is an in-memory, mutex-guarded implementation of
// service.JobRepository. Unlike the service package's single-goroutine
// fake, this one is exercised from real worker goroutines dispatched
// by a Pool, so every method takes the lock.
type fakeJobRepo struct {
	mu     sync.Mutex
	jobs   map[int64]*entity.Job
	logs   map[int64][]entity.JobLog
	nextID int64
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[int64]*entity.Job{}, logs: map[int64][]entity.JobLog{}}
}

// seed inserts a PENDING job directly, bypassing Create, so tests can
// set up fixtures without going through JobService.
func (r *fakeJobRepo) seed(queueID int64, name, command string, maxAttempts int) *entity.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	job := &entity.Job{
		ID:          r.nextID,
		Name:        name,
		Command:     command,
		Status:      entity.JobPending,
		MaxAttempts: maxAttempts,
		KeepLogs:    50,
		QueueID:     queueID,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	r.jobs[job.ID] = job
	return job
}

func (r *fakeJobRepo) snapshot(id int64) entity.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.jobs[id]
}

func (r *fakeJobRepo) Create(ctx context.Context, queueID int64, name, command string, args []string, opts entity.JobOptions) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	job := &entity.Job{
		ID:          r.nextID,
		CustomID:    opts.CustomID,
		Name:        name,
		Command:     command,
		Args:        args,
		Status:      entity.JobPending,
		Priority:    *opts.Priority,
		MaxAttempts: *opts.MaxAttempts,
		KeepLogs:    *opts.KeepLogs,
		QueueID:     queueID,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	r.jobs[job.ID] = job
	return job, nil
}

func (r *fakeJobRepo) GetByID(ctx context.Context, id int64) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, apperr.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *fakeJobRepo) GetByCustomID(ctx context.Context, customID string) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.CustomID != nil && *job.CustomID == customID {
			cp := *job
			return &cp, nil
		}
	}
	return nil, apperr.ErrJobNotFound
}

func (r *fakeJobRepo) MoveToRunning(ctx context.Context, id int64, lockToken string) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, apperr.ErrJobNotFound
	}
	if job.Status != entity.JobPending {
		return nil, apperr.ErrNotPending
	}
	now := time.Now()
	job.Status = entity.JobRunning
	job.LockToken = &lockToken
	job.AttemptsMade++
	job.ProcessedOn = &now
	cp := *job
	return &cp, nil
}

func (r *fakeJobRepo) MoveToCompleted(ctx context.Context, id int64, exitCode int, stdOut, stdErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return apperr.ErrJobNotFound
	}
	if job.Status != entity.JobRunning {
		return apperr.ErrNotRunning
	}
	now := time.Now()
	job.Status = entity.JobCompleted
	job.ExitCode = &exitCode
	job.StdOut, job.StdErr = stdOut, stdErr
	job.LockToken = nil
	job.FinishedOn = &now
	return nil
}

func (r *fakeJobRepo) MoveToFailed(ctx context.Context, id int64, failedReason string, stackTrace *string, exitCode *int, stdOut, stdErr string) (bool, *entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, nil, apperr.ErrJobNotFound
	}
	if job.Status != entity.JobRunning {
		return false, nil, apperr.ErrNotRunning
	}
	job.StdOut, job.StdErr = stdOut, stdErr
	job.ExitCode = exitCode
	job.LockToken = nil
	if job.AttemptsMade < job.MaxAttempts {
		job.Status = entity.JobPending
		job.ProcessedOn = nil
		cp := *job
		return true, &cp, nil
	}
	now := time.Now()
	job.Status = entity.JobFailed
	job.FailedReason = &failedReason
	job.StackTrace = stackTrace
	job.FinishedOn = &now
	cp := *job
	return false, &cp, nil
}

func (r *fakeJobRepo) MoveToCancelled(ctx context.Context, id int64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return apperr.ErrJobNotFound
	}
	if job.Status != entity.JobPending {
		return apperr.ErrNotPending
	}
	job.Status = entity.JobCancelled
	job.FailedReason = &reason
	return nil
}

// AddLog mirrors the real repository's retention behavior: it assigns
// the next dense sequence and then trims anything at or below
// nextSeq-KeepLogs, so callers exercising the pool against this fake
// see the same contiguous-suffix trimming a real Postgres job_log
// table would produce.
func (r *fakeJobRepo) AddLog(ctx context.Context, jobID int64, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return apperr.ErrJobNotFound
	}
	maxSeq := 0
	for _, l := range r.logs[jobID] {
		if l.Sequence > maxSeq {
			maxSeq = l.Sequence
		}
	}
	seq := maxSeq + 1
	r.logs[jobID] = append(r.logs[jobID], entity.JobLog{JobID: jobID, Sequence: seq, Message: message, CreatedAt: time.Now()})

	if cutoff := seq - job.KeepLogs; cutoff > 0 {
		kept := r.logs[jobID][:0]
		for _, l := range r.logs[jobID] {
			if l.Sequence > cutoff {
				kept = append(kept, l)
			}
		}
		r.logs[jobID] = kept
	}
	return nil
}

func (r *fakeJobRepo) GetLogs(ctx context.Context, jobID int64, limit int) ([]entity.JobLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	logs := r.logs[jobID]
	if limit <= 0 || limit >= len(logs) {
		return logs, nil
	}
	return logs[len(logs)-limit:], nil
}

// LeaseBatch is the method under test in the at-most-one-execution and
// concurrency-throughput scenarios: it must never hand out more than
// slots PENDING rows, and each returned row transitions to RUNNING
// atomically with respect to concurrent callers.
func (r *fakeJobRepo) LeaseBatch(ctx context.Context, queueName string, slots int, lockToken string) ([]entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slots <= 0 {
		return nil, nil
	}

	var leased []entity.Job
	now := time.Now()
	for _, job := range r.jobs {
		if len(leased) >= slots {
			break
		}
		if job.Status != entity.JobPending {
			continue
		}
		job.Status = entity.JobRunning
		job.LockToken = &lockToken
		job.AttemptsMade++
		job.ProcessedOn = &now
		leased = append(leased, *job)
	}
	return leased, nil
}

// fakeQueueRepo is an in-memory, mutex-guarded implementation of
// service.QueueRepository. Its stall-sweep methods reach directly
// into a shared fakeJobRepo so both fakes agree on job state.
type fakeQueueRepo struct {
	mu     sync.Mutex
	queues map[string]*entity.Queue
	nextID int64
	jobs   *fakeJobRepo
}

func newFakeQueueRepo(jobs *fakeJobRepo) *fakeQueueRepo {
	return &fakeQueueRepo{queues: map[string]*entity.Queue{}, jobs: jobs}
}

func (r *fakeQueueRepo) WaitUntilReady(ctx context.Context, name string, defaults entity.JobOptions) (*entity.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[name]; ok {
		return q, nil
	}
	r.nextID++
	q := &entity.Queue{ID: r.nextID, Name: name, Status: entity.QueueActive, DefaultJobOptions: defaults, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.queues[name] = q
	return q, nil
}

func (r *fakeQueueRepo) GetByName(ctx context.Context, name string) (*entity.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[name]
	if !ok {
		return nil, apperr.ErrQueueNotFound
	}
	return q, nil
}

func (r *fakeQueueRepo) Pause(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[name]
	if !ok {
		return apperr.ErrQueueNotFound
	}
	q.Status = entity.QueuePaused
	return nil
}

func (r *fakeQueueRepo) Resume(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[name]
	if !ok {
		return apperr.ErrQueueNotFound
	}
	q.Status = entity.QueueActive
	return nil
}

func (r *fakeQueueRepo) GetStats(ctx context.Context, name string) (*entity.QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queues[name]; !ok {
		return nil, apperr.ErrQueueNotFound
	}
	return &entity.QueueStats{QueueName: name, Counts: map[string]int{}}, nil
}

func (r *fakeQueueRepo) MarkStalledJobs(ctx context.Context, queueID int64, threshold time.Duration) ([]entity.Job, error) {
	r.jobs.mu.Lock()
	defer r.jobs.mu.Unlock()

	cutoff := time.Now().Add(-threshold)
	var stalled []entity.Job
	for _, job := range r.jobs.jobs {
		if job.QueueID != queueID || job.Status != entity.JobRunning {
			continue
		}
		if job.ProcessedOn == nil || job.ProcessedOn.After(cutoff) {
			continue
		}
		job.Status = entity.JobStalled
		job.LockToken = nil
		stalled = append(stalled, *job)
	}
	return stalled, nil
}

func (r *fakeQueueRepo) RetryStalledJobs(ctx context.Context, queueID int64) ([]entity.Job, error) {
	r.jobs.mu.Lock()
	defer r.jobs.mu.Unlock()

	var rearmed []entity.Job
	for _, job := range r.jobs.jobs {
		if job.QueueID != queueID || job.Status != entity.JobStalled {
			continue
		}
		job.Status = entity.JobPending
		job.LockToken = nil
		job.ProcessedOn = nil
		rearmed = append(rearmed, *job)
	}
	return rearmed, nil
}

// fakeNotifier records every published payload.
type fakeNotifier struct {
	mu       sync.Mutex
	notified []string
}

func (n *fakeNotifier) Notify(ctx context.Context, channel, payload string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, payload)
	return nil
}

// fakeWaker satisfies waker without any real LISTEN/NOTIFY channel;
// tests drive dispatch entirely off Config.PollInterval instead.
type fakeWaker struct{}

func (fakeWaker) Listen(ctx context.Context, channel string) (<-chan struct{}, error) {
	return make(chan struct{}), nil
}

// concurrencyTracker records how many ExecuteJobWithTimeout calls were
// in flight at once, across every fakeExecutor sharing it. Its high
// watermark is the direct observable for the at-most-one-execution and
// bounded-concurrency scenarios: it must never exceed a pool's
// configured Concurrency.
type concurrencyTracker struct {
	mu      sync.Mutex
	current int
	high    int
}

func (c *concurrencyTracker) enter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current++
	if c.current > c.high {
		c.high = c.current
	}
}

func (c *concurrencyTracker) leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current--
}

func (c *concurrencyTracker) highWatermark() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.high
}

// fakeExecutor is a scriptable stand-in for *remote.Executor. run is
// called once per ExecuteJobWithTimeout invocation; calls() lets a
// test assert exactly how many times a job was actually executed,
// which is the crux of the at-most-one-execution scenario.
type fakeExecutor struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	run   func(job *entity.Job) (*remote.Result, error)
	track *concurrencyTracker
}

func (e *fakeExecutor) Connect(ctx context.Context) error        { return nil }
func (e *fakeExecutor) Disconnect() error                        { return nil }
func (e *fakeExecutor) TestConnection(ctx context.Context) error { return nil }
func (e *fakeExecutor) ServerInfo(ctx context.Context) (string, string, error) {
	return "fake-host", "up 1 day", nil
}

func (e *fakeExecutor) ExecuteJobWithTimeout(ctx context.Context, job *entity.Job, onStdout, onStderr func(string)) (*remote.Result, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.track != nil {
		e.track.enter()
		defer e.track.leave()
	}

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if onStdout != nil {
		onStdout("ok\n")
	}
	if e.run != nil {
		return e.run(job)
	}
	return &remote.Result{ExitCode: 0, Stdout: "ok\n"}, nil
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func alwaysSucceeds(job *entity.Job) (*remote.Result, error) {
	return &remote.Result{ExitCode: 0, Stdout: fmt.Sprintf("ran %s\n", job.Name)}, nil
}
