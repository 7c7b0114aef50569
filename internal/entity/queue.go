package entity

import "time"

// QueueStatus gates whether a Queue accepts new jobs.
type QueueStatus string

const (
	QueueActive QueueStatus = "ACTIVE"
	QueuePaused QueueStatus = "PAUSED"
)

// Queue is a named container of jobs sharing default options and an
// active/paused flag.
type Queue struct {
	ID                 int64
	Name               string
	Status             QueueStatus
	DefaultJobOptions  JobOptions
	CreatedAt          time.Time
	UpdatedAt          time.Time
	PausedAt           *time.Time
}

// QueueStats aggregates job counts by status for one queue.
type QueueStats struct {
	QueueName string         `json:"queue_name"`
	Counts    map[string]int `json:"counts"`
	Total     int            `json:"total"`
}
