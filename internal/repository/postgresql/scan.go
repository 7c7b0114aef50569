package postgresql

import (
	"encoding/json"

	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/entity"
)

// jobColumns is the column list every Job query selects, in the order
// scanJob expects it.
const jobColumns = `id, custom_id, name, command, args, working_dir, timeout, std_out, std_err, exit_code, status, priority, max_attempts, attempts_made, created_at, updated_at, processed_on, finished_on, failed_reason, stack_trace, lock_token, keep_logs, queue_id`

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(s rowScanner) (*entity.Job, error) {
	var j entity.Job
	var argsJSON []byte

	err := s.Scan(
		&j.ID,
		&j.CustomID,
		&j.Name,
		&j.Command,
		&argsJSON,
		&j.WorkingDir,
		&j.Timeout,
		&j.StdOut,
		&j.StdErr,
		&j.ExitCode,
		&j.Status,
		&j.Priority,
		&j.MaxAttempts,
		&j.AttemptsMade,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.ProcessedOn,
		&j.FinishedOn,
		&j.FailedReason,
		&j.StackTrace,
		&j.LockToken,
		&j.KeepLogs,
		&j.QueueID,
	)
	if err != nil {
		return nil, err
	}

	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &j.Args); err != nil {
			return nil, err
		}
	}

	return &j, nil
}

// queueColumns is the column list every Queue query selects, in the
// order scanQueue expects it.
const queueColumns = `id, name, status, default_job_options, created_at, updated_at, paused_at`

func scanQueue(s rowScanner) (*entity.Queue, error) {
	var q entity.Queue
	var optsJSON []byte

	err := s.Scan(
		&q.ID,
		&q.Name,
		&q.Status,
		&optsJSON,
		&q.CreatedAt,
		&q.UpdatedAt,
		&q.PausedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(optsJSON) > 0 {
		if err := json.Unmarshal(optsJSON, &q.DefaultJobOptions); err != nil {
			return nil, err
		}
	}

	return &q, nil
}
