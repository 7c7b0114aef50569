// Package service holds the Job and Queue entity operations: option
// resolution, notification publishing, and delegation to the
// postgresql repositories. It is the layer both the worker loop and
// the admin HTTP surface call into, so neither one can bypass an
// invariant the other enforces.
package service

import (
	"context"
	"fmt"

	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/entity"
)

// NewJobChannel is the publish/subscribe channel producers notify and
// workers LISTEN on.
const NewJobChannel = "new_job"

// JobRepository is the persistence port a JobService depends on,
// satisfied by postgresql.JobRepository.
type JobRepository interface {
	Create(ctx context.Context, queueID int64, name, command string, args []string, opts entity.JobOptions) (*entity.Job, error)
	GetByID(ctx context.Context, id int64) (*entity.Job, error)
	GetByCustomID(ctx context.Context, customID string) (*entity.Job, error)
	MoveToRunning(ctx context.Context, id int64, lockToken string) (*entity.Job, error)
	MoveToCompleted(ctx context.Context, id int64, exitCode int, stdOut, stdErr string) error
	MoveToFailed(ctx context.Context, id int64, failedReason string, stackTrace *string, exitCode *int, stdOut, stdErr string) (retried bool, job *entity.Job, err error)
	MoveToCancelled(ctx context.Context, id int64, reason string) error
	AddLog(ctx context.Context, jobID int64, message string) error
	GetLogs(ctx context.Context, jobID int64, limit int) ([]entity.JobLog, error)
	LeaseBatch(ctx context.Context, queueName string, slots int, lockToken string) ([]entity.Job, error)
}

// Notifier publishes a lightweight wake-up hint; storage.Adapter
// satisfies this with Postgres NOTIFY.
type Notifier interface {
	Notify(ctx context.Context, channel, payload string) error
}

type JobService struct {
	repo     JobRepository
	notifier Notifier
}

func NewJobService(repo JobRepository, notifier Notifier) *JobService {
	return &JobService{repo: repo, notifier: notifier}
}

// Create inserts the job and publishes new_job. The payload is the
// job name; workers never parse it, it exists only to wake pollers.
func (s *JobService) Create(ctx context.Context, queueID int64, name, command string, args []string, opts entity.JobOptions) (*entity.Job, error) {
	job, err := s.repo.Create(ctx, queueID, name, command, args, opts)
	if err != nil {
		return nil, err
	}
	if err := s.notifier.Notify(ctx, NewJobChannel, job.Name); err != nil {
		return job, fmt.Errorf("job_service: notify: %w", err)
	}
	return job, nil
}

func (s *JobService) Get(ctx context.Context, id int64) (*entity.Job, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *JobService) GetByCustomID(ctx context.Context, customID string) (*entity.Job, error) {
	return s.repo.GetByCustomID(ctx, customID)
}

func (s *JobService) MoveToRunning(ctx context.Context, id int64, lockToken string) (*entity.Job, error) {
	return s.repo.MoveToRunning(ctx, id, lockToken)
}

func (s *JobService) MoveToCompleted(ctx context.Context, id int64, exitCode int, stdOut, stdErr string) error {
	return s.repo.MoveToCompleted(ctx, id, exitCode, stdOut, stdErr)
}

// MoveToFailed applies the retry-or-terminate branch and republishes
// new_job when the job re-enters PENDING.
func (s *JobService) MoveToFailed(ctx context.Context, jobID int64, failErr error, exitCode *int, stdOut, stdErr string) (retried bool, job *entity.Job, err error) {
	reason := failErr.Error()
	var stackTrace *string
	if verbose := fmt.Sprintf("%+v", failErr); verbose != reason {
		stackTrace = &verbose
	}

	retried, job, err = s.repo.MoveToFailed(ctx, jobID, reason, stackTrace, exitCode, stdOut, stdErr)
	if err != nil {
		return false, nil, err
	}
	if retried {
		if nErr := s.notifier.Notify(ctx, NewJobChannel, job.Name); nErr != nil {
			return retried, job, fmt.Errorf("job_service: notify: %w", nErr)
		}
	}
	return retried, job, nil
}

func (s *JobService) MoveToCancelled(ctx context.Context, id int64, reason string) error {
	return s.repo.MoveToCancelled(ctx, id, reason)
}

func (s *JobService) AddLog(ctx context.Context, jobID int64, message string) error {
	return s.repo.AddLog(ctx, jobID, message)
}

func (s *JobService) GetLogs(ctx context.Context, jobID int64, limit int) ([]entity.JobLog, error) {
	return s.repo.GetLogs(ctx, jobID, limit)
}

// LeaseBatch is used directly by the worker loop's hot path.
func (s *JobService) LeaseBatch(ctx context.Context, queueName string, slots int, lockToken string) ([]entity.Job, error) {
	return s.repo.LeaseBatch(ctx, queueName, slots, lockToken)
}

// publishNewJob lets sibling services (QueueService's stalled-job
// retry) reuse the same notifier without exposing it directly.
func (s *JobService) publishNewJob(ctx context.Context, payload string) error {
	return s.notifier.Notify(ctx, NewJobChannel, payload)
}
