package entity

import "time"

// JobStatus is the lifecycle state of a Job row.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobStalled   JobStatus = "STALLED"
	JobCancelled JobStatus = "CANCELLED"
)

// Job is a single unit of remote work owned by a Queue.
type Job struct {
	ID           int64     `json:"id"`
	CustomID     *string   `json:"custom_id,omitempty"`
	Name         string    `json:"name"`
	Command      string    `json:"command"`
	Args         []string  `json:"args"`
	WorkingDir   *string   `json:"working_dir,omitempty"`
	Timeout      *int      `json:"timeout,omitempty"` // seconds
	StdOut       string    `json:"std_out"`
	StdErr       string    `json:"std_err"`
	ExitCode     *int      `json:"exit_code,omitempty"`
	Status       JobStatus `json:"status"`
	Priority     int       `json:"priority"`
	MaxAttempts  int       `json:"max_attempts"`
	AttemptsMade int       `json:"attempts_made"`
	FailedReason *string   `json:"failed_reason,omitempty"`
	StackTrace   *string   `json:"stack_trace,omitempty"`
	LockToken    *string   `json:"-"`
	KeepLogs     int       `json:"keep_logs"`
	QueueID      int64     `json:"queue_id"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedOn *time.Time `json:"processed_on,omitempty"`
	FinishedOn  *time.Time `json:"finished_on,omitempty"`
}

// IsLeased reports whether some worker currently owns this job.
func (j *Job) IsLeased() bool {
	return j.LockToken != nil
}

// IsTerminal reports whether the job has reached a status that will
// never transition again.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}
