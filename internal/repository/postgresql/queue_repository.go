package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/apperr"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/entity"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/storage"
)

// QueueRepository persists and mutates Queue rows, and runs the
// job-table queries that are scoped by queue (stats, stall sweep,
// stalled-job retry).
type QueueRepository struct {
	db *storage.Adapter
}

func NewQueueRepository(db *storage.Adapter) *QueueRepository {
	return &QueueRepository{db: db}
}

// WaitUntilReady returns the named queue, inserting it under a
// SELECT ... FOR UPDATE if it does not exist yet.
func (r *QueueRepository) WaitUntilReady(ctx context.Context, name string, defaults entity.JobOptions) (*entity.Queue, error) {
	var q *entity.Queue
	err := r.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		found, err := scanQueue(tx.QueryRow(ctx, `SELECT `+queueColumns+` FROM queue WHERE name = $1 FOR UPDATE`, name))
		if errors.Is(err, pgx.ErrNoRows) {
			optsJSON, mErr := json.Marshal(defaults)
			if mErr != nil {
				return fmt.Errorf("postgresql: marshal defaults: %w", mErr)
			}
			found, err = scanQueue(tx.QueryRow(ctx,
				`INSERT INTO queue (name, default_job_options) VALUES ($1, $2) RETURNING `+queueColumns+`;`,
				name, optsJSON,
			))
		}
		if err != nil {
			return fmt.Errorf("postgresql: wait until ready: %w", err)
		}
		q = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (r *QueueRepository) GetByName(ctx context.Context, name string) (*entity.Queue, error) {
	q, err := scanQueue(r.db.Pool().QueryRow(ctx, `SELECT `+queueColumns+` FROM queue WHERE name = $1;`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrQueueNotFound
		}
		return nil, fmt.Errorf("postgresql: get queue: %w", err)
	}
	return q, nil
}

// Pause is a no-op (not an error) if the queue is already paused.
func (r *QueueRepository) Pause(ctx context.Context, name string) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE queue SET status = 'PAUSED', paused_at = now(), updated_at = now() WHERE name = $1 AND status = 'ACTIVE';`,
		name,
	)
	if err != nil {
		return fmt.Errorf("postgresql: pause queue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByName(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Resume is a no-op (not an error) if the queue is already active.
func (r *QueueRepository) Resume(ctx context.Context, name string) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE queue SET status = 'ACTIVE', paused_at = NULL, updated_at = now() WHERE name = $1 AND status = 'PAUSED';`,
		name,
	)
	if err != nil {
		return fmt.Errorf("postgresql: resume queue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByName(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *QueueRepository) GetStats(ctx context.Context, name string) (*entity.QueueStats, error) {
	q, err := r.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Pool().Query(ctx, `SELECT status, count(*) FROM job WHERE queue_id = $1 GROUP BY status;`, q.ID)
	if err != nil {
		return nil, fmt.Errorf("postgresql: get stats: %w", err)
	}
	defer rows.Close()

	stats := &entity.QueueStats{QueueName: name, Counts: map[string]int{}}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.Counts[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

// MarkStalledJobs moves this queue's RUNNING jobs whose processed_on
// predates threshold to STALLED. SKIP LOCKED ensures a worker mid-way
// through its own transition on the same row is never blocked or
// clobbered by the sweep.
func (r *QueueRepository) MarkStalledJobs(ctx context.Context, queueID int64, threshold time.Duration) ([]entity.Job, error) {
	const q = `
WITH stale AS (
    SELECT id FROM job
    WHERE queue_id = $1 AND status = 'RUNNING' AND processed_on < $2
    FOR UPDATE SKIP LOCKED
),
updated AS (
    UPDATE job
    SET status = 'STALLED', lock_token = NULL, updated_at = now()
    WHERE id IN (SELECT id FROM stale)
    RETURNING ` + jobColumns + `
)
SELECT * FROM updated ORDER BY priority ASC, created_at ASC, id ASC;`

	rows, err := r.db.Pool().Query(ctx, q, queueID, timeoutCutoff(threshold))
	if err != nil {
		return nil, fmt.Errorf("postgresql: mark stalled: %w", err)
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
	return jobs, rows.Err()
}

// RetryStalledJobs rearms every STALLED job of this queue as PENDING.
// It is a no-op when the queue has no STALLED jobs.
func (r *QueueRepository) RetryStalledJobs(ctx context.Context, queueID int64) ([]entity.Job, error) {
	const q = `
UPDATE job
SET status = 'PENDING', lock_token = NULL, processed_on = NULL, updated_at = now()
WHERE queue_id = $1 AND status = 'STALLED'
RETURNING ` + jobColumns + `;`

	rows, err := r.db.Pool().Query(ctx, q, queueID)
	if err != nil {
		return nil, fmt.Errorf("postgresql: retry stalled: %w", err)
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
	return jobs, rows.Err()
}
