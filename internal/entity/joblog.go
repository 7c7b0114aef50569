package entity

import (
	"time"

	"github.com/google/uuid"
)

// JobLog is one append-only line of a job's captured output trail.
type JobLog struct {
	ID        uuid.UUID `json:"id"`
	JobID     int64     `json:"job_id"`
	Sequence  int       `json:"sequence"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
