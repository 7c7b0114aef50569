// Package postgresql implements the Job and Queue persistence
// contracts against pgx: a thin struct wrapping a storage.Adapter
// with typed methods that hand-write their SQL rather than going
// through an ORM.
package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/apperr"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/entity"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/storage"
)

const uniqueViolation = "23505"

// JobRepository persists and mutates Job rows. Single-statement
// methods query the pool directly; anything that reads-then-writes
// under a row lock runs through the adapter's transactional wrapper.
type JobRepository struct {
	db *storage.Adapter
}

func NewJobRepository(db *storage.Adapter) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a PENDING job. opts must already be resolved (queue
// defaults merged with per-job overrides, all engine defaults filled
// in) by the caller.
func (r *JobRepository) Create(ctx context.Context, queueID int64, name, command string, args []string, opts entity.JobOptions) (*entity.Job, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("postgresql: marshal args: %w", err)
	}

	const q = `
INSERT INTO job (custom_id, name, command, args, working_dir, timeout, priority, max_attempts, keep_logs, queue_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + jobColumns + `;`

	row := r.db.Pool().QueryRow(ctx, q,
		opts.CustomID, name, command, argsJSON, opts.WorkingDir, opts.Timeout,
		*opts.Priority, *opts.MaxAttempts, *opts.KeepLogs, queueID,
	)

	job, err := scanJob(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, apperr.ErrCustomIDConflict
		}
		return nil, fmt.Errorf("postgresql: create job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id int64) (*entity.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM job WHERE id = $1;`
	job, err := scanJob(r.db.Pool().QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrJobNotFound
		}
		return nil, fmt.Errorf("postgresql: get job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) GetByCustomID(ctx context.Context, customID string) (*entity.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM job WHERE custom_id = $1;`
	job, err := scanJob(r.db.Pool().QueryRow(ctx, q, customID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrJobNotFound
		}
		return nil, fmt.Errorf("postgresql: get job by custom id: %w", err)
	}
	return job, nil
}

// MoveToRunning re-locks the row, asserts it is PENDING, and leases
// it under lockToken. It exists for tests and single-worker flows;
// the worker loop's hot path uses LeaseBatch instead.
func (r *JobRepository) MoveToRunning(ctx context.Context, id int64, lockToken string) (*entity.Job, error) {
	var job *entity.Job
	err := r.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var status entity.JobStatus
		if err := tx.QueryRow(ctx, `SELECT status FROM job WHERE id = $1 FOR UPDATE`, id).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrJobNotFound
			}
			return err
		}
		if status != entity.JobPending {
			return apperr.ErrNotPending
		}

		const q = `
UPDATE job
SET status = 'RUNNING', lock_token = $2, processed_on = now(), attempts_made = attempts_made + 1, updated_at = now()
WHERE id = $1
RETURNING ` + jobColumns + `;`

		scanned, err := scanJob(tx.QueryRow(ctx, q, id, lockToken))
		if err != nil {
			return err
		}
		job = scanned
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// MoveToCompleted requires the job's current status to be RUNNING.
func (r *JobRepository) MoveToCompleted(ctx context.Context, id int64, exitCode int, stdOut, stdErr string) error {
	const q = `
UPDATE job
SET status = 'COMPLETED', exit_code = $2, std_out = $3, std_err = $4, finished_on = now(), lock_token = NULL, updated_at = now()
WHERE id = $1 AND status = 'RUNNING';`

	tag, err := r.db.Pool().Exec(ctx, q, id, exitCode, stdOut, stdErr)
	if err != nil {
		return fmt.Errorf("postgresql: move to completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotRunning
	}
	return nil
}

// MoveToFailed applies the retry-or-terminate decision: if
// attempts_made < max_attempts the job is reset to PENDING
// (attempts_made is preserved, not re-incremented); otherwise it is
// marked FAILED. The boolean return reports which branch fired so the
// caller knows whether to republish new_job.
func (r *JobRepository) MoveToFailed(ctx context.Context, id int64, failedReason string, stackTrace *string, exitCode *int, stdOut, stdErr string) (retried bool, job *entity.Job, err error) {
	txErr := r.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var attemptsMade, maxAttempts int
		var status entity.JobStatus
		row := tx.QueryRow(ctx, `SELECT attempts_made, max_attempts, status FROM job WHERE id = $1 FOR UPDATE`, id)
		if err := row.Scan(&attemptsMade, &maxAttempts, &status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrJobNotFound
			}
			return err
		}
		if status != entity.JobRunning {
			return apperr.ErrNotRunning
		}

		var scanned *entity.Job
		var scanErr error
		if attemptsMade < maxAttempts {
			const q = `
UPDATE job
SET status = 'PENDING', lock_token = NULL, processed_on = NULL, finished_on = NULL,
    failed_reason = NULL, stack_trace = NULL, exit_code = $2, std_out = $3, std_err = $4, updated_at = now()
WHERE id = $1
RETURNING ` + jobColumns + `;`
			scanned, scanErr = scanJob(tx.QueryRow(ctx, q, id, exitCode, stdOut, stdErr))
			retried = true
		} else {
			const q = `
UPDATE job
SET status = 'FAILED', failed_reason = $5, stack_trace = $6, exit_code = $2, std_out = $3, std_err = $4,
    finished_on = now(), lock_token = NULL, updated_at = now()
WHERE id = $1
RETURNING ` + jobColumns + `;`
			scanned, scanErr = scanJob(tx.QueryRow(ctx, q, id, exitCode, stdOut, stdErr, failedReason, stackTrace))
			retried = false
		}
		if scanErr != nil {
			return fmt.Errorf("postgresql: move to failed: %w", scanErr)
		}
		job = scanned
		return nil
	})
	if txErr != nil {
		return false, nil, txErr
	}
	return retried, job, nil
}

// MoveToCancelled succeeds only when the job's current status is
// PENDING; running jobs cannot be cancelled in this version.
func (r *JobRepository) MoveToCancelled(ctx context.Context, id int64, reason string) error {
	const q = `
UPDATE job
SET status = 'CANCELLED', failed_reason = $2, finished_on = now(), updated_at = now()
WHERE id = $1 AND status = 'PENDING';`

	tag, err := r.db.Pool().Exec(ctx, q, id, reason)
	if err != nil {
		return fmt.Errorf("postgresql: move to cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotPending
	}
	return nil
}

// AddLog locks the parent Job row (serializing concurrent appends
// from stdout/stderr callbacks), assigns the next dense sequence, and
// trims anything beyond the newest keep_logs rows.
func (r *JobRepository) AddLog(ctx context.Context, jobID int64, message string) error {
	return r.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var keepLogs int
		if err := tx.QueryRow(ctx, `SELECT keep_logs FROM job WHERE id = $1 FOR UPDATE`, jobID).Scan(&keepLogs); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrJobNotFound
			}
			return err
		}

		var maxSeq int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM job_log WHERE job_id = $1`, jobID).Scan(&maxSeq); err != nil {
			return err
		}
		nextSeq := maxSeq + 1

		if _, err := tx.Exec(ctx,
			`INSERT INTO job_log (id, job_id, sequence, message, created_at) VALUES ($1, $2, $3, $4, now())`,
			uuid.New(), jobID, nextSeq, message,
		); err != nil {
			return fmt.Errorf("postgresql: insert log: %w", err)
		}

		if cutoff := nextSeq - keepLogs; cutoff > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM job_log WHERE job_id = $1 AND sequence <= $2`, jobID, cutoff); err != nil {
				return fmt.Errorf("postgresql: trim logs: %w", err)
			}
		}
		return nil
	})
}

// GetLogs returns the newest limit logs (or all of them, if limit <=
// 0) in ascending sequence order.
func (r *JobRepository) GetLogs(ctx context.Context, jobID int64, limit int) ([]entity.JobLog, error) {
	q := `SELECT id, job_id, sequence, message, created_at FROM job_log WHERE job_id = $1 ORDER BY sequence DESC`
	args := []any{jobID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Pool().Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgresql: get logs: %w", err)
	}
	defer rows.Close()

	var logs []entity.JobLog
	for rows.Next() {
		var l entity.JobLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.Sequence, &l.Message, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}

// LeaseBatch is the atomic lease query: a single UPDATE, fed by a SKIP
// LOCKED CTE selection, that guarantees each PENDING row is claimed by
// exactly one caller even under concurrent workers. The outer SELECT
// re-sorts the RETURNING set because
// UPDATE ... RETURNING does not itself guarantee row order.
func (r *JobRepository) LeaseBatch(ctx context.Context, queueName string, slots int, lockToken string) ([]entity.Job, error) {
	if slots <= 0 {
		return nil, nil
	}

	const q = `
WITH next AS (
    SELECT id FROM job
    WHERE status = 'PENDING'
      AND queue_id = (SELECT id FROM queue WHERE name = $1)
      AND lock_token IS NULL
    ORDER BY priority ASC, created_at ASC, id ASC
    FOR UPDATE SKIP LOCKED
    LIMIT $2
),
updated AS (
    UPDATE job
    SET status = 'RUNNING', lock_token = $3, processed_on = now(), attempts_made = attempts_made + 1, updated_at = now()
    WHERE id IN (SELECT id FROM next)
    RETURNING ` + jobColumns + `
)
SELECT * FROM updated ORDER BY priority ASC, created_at ASC, id ASC;`

	rows, err := r.db.Pool().Query(ctx, q, queueName, slots, lockToken)
	if err != nil {
		return nil, fmt.Errorf("postgresql: lease batch: %w", err)
	}
	defer rows.Close()

	var jobs []entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// timeoutCutoff is a small helper shared by the stall sweep.
func timeoutCutoff(threshold time.Duration) time.Time {
	return time.Now().Add(-threshold)
}
