package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/apperr"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/entity"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/service"
)

// fakeJobRepo is a narrow, hand-rolled implementation of
// service.JobRepository, in-memory, single-goroutine only.
type fakeJobRepo struct {
	jobs   map[int64]*entity.Job
	logs   map[int64][]entity.JobLog
	nextID int64

	createErr error
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[int64]*entity.Job{}, logs: map[int64][]entity.JobLog{}}
}

func (r *fakeJobRepo) Create(ctx context.Context, queueID int64, name, command string, args []string, opts entity.JobOptions) (*entity.Job, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
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
	job, ok := r.jobs[id]
	if !ok {
		return nil, apperr.ErrJobNotFound
	}
	return job, nil
}

func (r *fakeJobRepo) GetByCustomID(ctx context.Context, customID string) (*entity.Job, error) {
	for _, job := range r.jobs {
		if job.CustomID != nil && *job.CustomID == customID {
			return job, nil
		}
	}
	return nil, apperr.ErrJobNotFound
}

func (r *fakeJobRepo) MoveToRunning(ctx context.Context, id int64, lockToken string) (*entity.Job, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, apperr.ErrJobNotFound
	}
	if job.Status != entity.JobPending {
		return nil, apperr.ErrNotPending
	}
	job.Status = entity.JobRunning
	job.LockToken = &lockToken
	job.AttemptsMade++
	return job, nil
}

func (r *fakeJobRepo) MoveToCompleted(ctx context.Context, id int64, exitCode int, stdOut, stdErr string) error {
	job, ok := r.jobs[id]
	if !ok {
		return apperr.ErrJobNotFound
	}
	if job.Status != entity.JobRunning {
		return apperr.ErrNotRunning
	}
	job.Status = entity.JobCompleted
	job.ExitCode = &exitCode
	job.StdOut, job.StdErr = stdOut, stdErr
	job.LockToken = nil
	return nil
}

func (r *fakeJobRepo) MoveToFailed(ctx context.Context, id int64, failedReason string, stackTrace *string, exitCode *int, stdOut, stdErr string) (bool, *entity.Job, error) {
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
		return true, job, nil
	}
	job.Status = entity.JobFailed
	job.FailedReason = &failedReason
	job.StackTrace = stackTrace
	return false, job, nil
}

func (r *fakeJobRepo) MoveToCancelled(ctx context.Context, id int64, reason string) error {
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
// the next dense sequence and trims anything at or below
// nextSeq-KeepLogs, keeping the newest KeepLogs rows as a contiguous
// suffix.
func (r *fakeJobRepo) AddLog(ctx context.Context, jobID int64, message string) error {
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
	logs := r.logs[jobID]
	if limit <= 0 || limit >= len(logs) {
		return logs, nil
	}
	return logs[len(logs)-limit:], nil
}

func (r *fakeJobRepo) LeaseBatch(ctx context.Context, queueName string, slots int, lockToken string) ([]entity.Job, error) {
	var leased []entity.Job
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
		leased = append(leased, *job)
	}
	return leased, nil
}

// fakeNotifier records every published payload; it never fails unless
// told to.
type fakeNotifier struct {
	notified []string
	err      error
}

func (n *fakeNotifier) Notify(ctx context.Context, channel, payload string) error {
	if n.err != nil {
		return n.err
	}
	n.notified = append(n.notified, payload)
	return nil
}

func TestJobService_Create_PublishesNewJob(t *testing.T) {
	repo := newFakeJobRepo()
	notifier := &fakeNotifier{}
	svc := service.NewJobService(repo, notifier)

	opts := entity.JobOptions{}.Resolved()
	job, err := svc.Create(context.Background(), 1, "build", "make", []string{"all"}, opts)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if job.Status != entity.JobPending {
		t.Fatalf("expected new job to be PENDING, got %s", job.Status)
	}
	if len(notifier.notified) != 1 || notifier.notified[0] != "build" {
		t.Fatalf("expected one notify with payload=build, got %#v", notifier.notified)
	}
}

func TestJobService_MoveToFailed_RetriesUnderMaxAttempts(t *testing.T) {
	repo := newFakeJobRepo()
	notifier := &fakeNotifier{}
	svc := service.NewJobService(repo, notifier)

	opts := entity.JobOptions{MaxAttempts: intp(3)}.Resolved()
	job, _ := svc.Create(context.Background(), 1, "flaky", "false", nil, opts)
	if _, err := svc.MoveToRunning(context.Background(), job.ID, "tok1"); err != nil {
		t.Fatalf("move to running: %v", err)
	}

	retried, updated, err := svc.MoveToFailed(context.Background(), job.ID, errors.New("boom"), nil, "", "")
	if err != nil {
		t.Fatalf("move to failed: %v", err)
	}
	if !retried {
		t.Fatalf("expected retry (attempts_made=1 < max_attempts=3)")
	}
	if updated.Status != entity.JobPending {
		t.Fatalf("expected job back to PENDING, got %s", updated.Status)
	}
	if updated.AttemptsMade != 1 {
		t.Fatalf("expected attempts_made to stay at 1 (not re-incremented on failure), got %d", updated.AttemptsMade)
	}
	// notify fired twice: once on create, once on retry.
	if len(notifier.notified) != 2 {
		t.Fatalf("expected 2 notifications (create + retry), got %d", len(notifier.notified))
	}
}

func TestJobService_MoveToFailed_TerminatesAtMaxAttempts(t *testing.T) {
	repo := newFakeJobRepo()
	notifier := &fakeNotifier{}
	svc := service.NewJobService(repo, notifier)

	opts := entity.JobOptions{MaxAttempts: intp(1)}.Resolved()
	job, _ := svc.Create(context.Background(), 1, "always-fails", "false", nil, opts)
	if _, err := svc.MoveToRunning(context.Background(), job.ID, "tok1"); err != nil {
		t.Fatalf("move to running: %v", err)
	}

	retried, updated, err := svc.MoveToFailed(context.Background(), job.ID, errors.New("boom"), nil, "", "")
	if err != nil {
		t.Fatalf("move to failed: %v", err)
	}
	if retried {
		t.Fatalf("expected no retry (attempts_made=1 == max_attempts=1)")
	}
	if updated.Status != entity.JobFailed {
		t.Fatalf("expected job to end FAILED, got %s", updated.Status)
	}
	if updated.FailedReason == nil || *updated.FailedReason != "boom" {
		t.Fatalf("expected failed_reason=boom, got %v", updated.FailedReason)
	}
}

func TestJobService_AddLog_SequenceIsDenseAndOrdered(t *testing.T) {
	repo := newFakeJobRepo()
	svc := service.NewJobService(repo, &fakeNotifier{})

	job, _ := svc.Create(context.Background(), 1, "job", "cmd", nil, entity.JobOptions{}.Resolved())
	for _, line := range []string{"first", "second", "third"} {
		if err := svc.AddLog(context.Background(), job.ID, line); err != nil {
			t.Fatalf("add log: %v", err)
		}
	}

	logs, err := svc.GetLogs(context.Background(), job.ID, 0)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 logs, got %d", len(logs))
	}
	for i, l := range logs {
		if l.Sequence != i+1 {
			t.Errorf("expected dense sequence starting at 1, got %d at index %d", l.Sequence, i)
		}
	}
	if logs[0].Message != "first" || logs[2].Message != "third" {
		t.Fatalf("expected ascending order, got %#v", logs)
	}
}

func TestJobService_AddLog_TrimsToKeepLogsAsContiguousSuffix(t *testing.T) {
	repo := newFakeJobRepo()
	svc := service.NewJobService(repo, &fakeNotifier{})

	opts := entity.JobOptions{KeepLogs: intp(3)}.Resolved()
	job, _ := svc.Create(context.Background(), 1, "job", "cmd", nil, opts)
	for _, line := range []string{"one", "two", "three", "four", "five"} {
		if err := svc.AddLog(context.Background(), job.ID, line); err != nil {
			t.Fatalf("add log: %v", err)
		}
	}

	logs, err := svc.GetLogs(context.Background(), job.ID, 0)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected retention bound of 3 rows, got %d", len(logs))
	}
	wantSeqs := []int{3, 4, 5}
	wantMsgs := []string{"three", "four", "five"}
	for i, l := range logs {
		if l.Sequence != wantSeqs[i] {
			t.Errorf("expected contiguous suffix sequence %d at index %d, got %d", wantSeqs[i], i, l.Sequence)
		}
		if l.Message != wantMsgs[i] {
			t.Errorf("expected message %q at index %d, got %q", wantMsgs[i], i, l.Message)
		}
	}
}

func intp(i int) *int { return &i }
