package service

import (
	"context"
	"fmt"
	"time"

	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/apperr"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/entity"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/events"
)

// QueueRepository is the persistence port a QueueService depends on,
// satisfied by postgresql.QueueRepository.
type QueueRepository interface {
	WaitUntilReady(ctx context.Context, name string, defaults entity.JobOptions) (*entity.Queue, error)
	GetByName(ctx context.Context, name string) (*entity.Queue, error)
	Pause(ctx context.Context, name string) error
	Resume(ctx context.Context, name string) error
	GetStats(ctx context.Context, name string) (*entity.QueueStats, error)
	MarkStalledJobs(ctx context.Context, queueID int64, threshold time.Duration) ([]entity.Job, error)
	RetryStalledJobs(ctx context.Context, queueID int64) ([]entity.Job, error)
}

type QueueService struct {
	repo   QueueRepository
	jobs   *JobService
	events *events.Bus
}

func NewQueueService(repo QueueRepository, jobs *JobService, bus *events.Bus) *QueueService {
	return &QueueService{repo: repo, jobs: jobs, events: bus}
}

// WaitUntilReady lazily creates the named queue.
func (s *QueueService) WaitUntilReady(ctx context.Context, name string, defaults entity.JobOptions) (*entity.Queue, error) {
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	return s.repo.WaitUntilReady(ctx, name, defaults)
}

// Add merges opts over the queue's default_job_options, resolves the
// engine defaults, and inserts the job — unless the queue is PAUSED,
// in which case no row is inserted and ErrQueuePaused is returned.
func (s *QueueService) Add(ctx context.Context, queueName, jobName, command string, args []string, opts entity.JobOptions) (*entity.Job, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	q, err := s.repo.GetByName(ctx, queueName)
	if err != nil {
		return nil, err
	}
	if q.Status == entity.QueuePaused {
		return nil, apperr.ErrQueuePaused
	}

	resolved := opts.Merge(q.DefaultJobOptions).Resolved()
	return s.jobs.Create(ctx, q.ID, jobName, command, args, resolved)
}

func (s *QueueService) Pause(ctx context.Context, name string) error {
	if err := s.repo.Pause(ctx, name); err != nil {
		return err
	}
	s.events.Emit(events.Event{Kind: events.Paused, At: time.Now(), QueueName: name})
	return nil
}

func (s *QueueService) Resume(ctx context.Context, name string) error {
	if err := s.repo.Resume(ctx, name); err != nil {
		return err
	}
	s.events.Emit(events.Event{Kind: events.Resumed, At: time.Now(), QueueName: name})
	return nil
}

func (s *QueueService) GetStats(ctx context.Context, name string) (*entity.QueueStats, error) {
	return s.repo.GetStats(ctx, name)
}

// MarkStalledJobs sweeps this queue's RUNNING jobs whose processed_on
// predates threshold into STALLED, and emits jobStalled with the
// whole swept batch if any jobs moved.
func (s *QueueService) MarkStalledJobs(ctx context.Context, queueName string, threshold time.Duration) ([]entity.Job, error) {
	q, err := s.repo.GetByName(ctx, queueName)
	if err != nil {
		return nil, err
	}

	stalled, err := s.repo.MarkStalledJobs(ctx, q.ID, threshold)
	if err != nil {
		return nil, fmt.Errorf("queue_service: mark stalled: %w", err)
	}
	if len(stalled) > 0 {
		s.events.Emit(events.Event{Kind: events.JobStalled, At: time.Now(), QueueName: queueName, Jobs: stalled})
	}
	return stalled, nil
}

// RetryStalledJobs rearms this queue's STALLED jobs as PENDING and
// republishes new_job once per rearmed job. It is a no-op on an empty
// STALLED set.
func (s *QueueService) RetryStalledJobs(ctx context.Context, queueName string) ([]entity.Job, error) {
	q, err := s.repo.GetByName(ctx, queueName)
	if err != nil {
		return nil, err
	}

	rearmed, err := s.repo.RetryStalledJobs(ctx, q.ID)
	if err != nil {
		return nil, fmt.Errorf("queue_service: retry stalled: %w", err)
	}
	for _, job := range rearmed {
		if err := s.jobs.publishNewJob(ctx, job.Name); err != nil {
			return rearmed, fmt.Errorf("queue_service: notify: %w", err)
		}
	}
	return rearmed, nil
}
