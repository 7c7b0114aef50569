package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/entity"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/events"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/remote"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/service"
)

// remoteExecutor is the SSH-session port a Processor and a Pool depend
// on, satisfied by *remote.Executor. Narrowing it to the calls they
// actually make is what lets tests substitute a scripted fake
// instead of dialing a real host.
type remoteExecutor interface {
	Connect(ctx context.Context) error
	Disconnect() error
	TestConnection(ctx context.Context) error
	ServerInfo(ctx context.Context) (hostname, uptime string, err error)
	ExecuteJobWithTimeout(ctx context.Context, job *entity.Job, onStdout, onStderr func(string)) (*remote.Result, error)
}

// Processor runs one leased job's full dispatch lifecycle: execute
// over SSH, stream logs as they arrive, and record the terminal
// transition. job must already be RUNNING (leased by the caller);
// Process never re-leases it and never retries it directly — retry
// is MoveToFailed's job.
type Processor struct {
	jobs   *service.JobService
	remote remoteExecutor
	events *events.Bus
}

func NewProcessor(jobs *service.JobService, exec remoteExecutor, bus *events.Bus) *Processor {
	return &Processor{jobs: jobs, remote: exec, events: bus}
}

func (p *Processor) Process(ctx context.Context, job entity.Job) {
	start := time.Now()
	p.events.Emit(events.Event{Kind: events.JobStarted, At: time.Now(), Job: &job})

	onStdout := func(chunk string) { _ = p.jobs.AddLog(ctx, job.ID, "[stdout] "+chunk) }
	onStderr := func(chunk string) { _ = p.jobs.AddLog(ctx, job.ID, "[stderr] "+chunk) }

	result, err := p.remote.ExecuteJobWithTimeout(ctx, &job, onStdout, onStderr)
	if err != nil {
		log.Printf("[worker] job_id=%d name=%s execute_error=%v", job.ID, job.Name, err)
		p.fail(ctx, &job, err, nil, "", "")
		return
	}

	if result.ExitCode == 0 {
		if mErr := p.jobs.MoveToCompleted(ctx, job.ID, result.ExitCode, result.Stdout, result.Stderr); mErr != nil {
			log.Printf("[worker] job_id=%d name=%s move_to_completed error=%v", job.ID, job.Name, mErr)
			p.events.Emit(events.Event{Kind: events.JobFailed, At: time.Now(), Job: &job, Err: mErr})
			return
		}
		exitCode := result.ExitCode
		job.Status = entity.JobCompleted
		job.ExitCode = &exitCode
		log.Printf("[worker] job_id=%d name=%s status=completed duration_ms=%d", job.ID, job.Name, time.Since(start).Milliseconds())
		p.events.Emit(events.Event{Kind: events.JobCompleted, At: time.Now(), Job: &job})
		return
	}

	exitCode := result.ExitCode
	failErr := fmt.Errorf("command exited with status %d", result.ExitCode)
	log.Printf("[worker] job_id=%d name=%s status=failed exit_code=%d duration_ms=%d", job.ID, job.Name, exitCode, time.Since(start).Milliseconds())
	p.fail(ctx, &job, failErr, &exitCode, result.Stdout, result.Stderr)
}

func (p *Processor) fail(ctx context.Context, job *entity.Job, failErr error, exitCode *int, stdout, stderr string) {
	retried, updated, mErr := p.jobs.MoveToFailed(ctx, job.ID, failErr, exitCode, stdout, stderr)
	if mErr != nil {
		log.Printf("[worker] job_id=%d name=%s move_to_failed error=%v", job.ID, job.Name, mErr)
		p.events.Emit(events.Event{Kind: events.JobFailed, At: time.Now(), Job: job, Err: mErr})
		return
	}
	if retried {
		log.Printf("[worker] job_id=%d name=%s retried attempts_made=%d", job.ID, job.Name, updated.AttemptsMade)
	}
	p.events.Emit(events.Event{Kind: events.JobFailed, At: time.Now(), Job: updated, Err: failErr})
}
