// Package apperr collects the sentinel errors the engine surfaces to
// its embedders (worker observers, the admin HTTP surface, the CLI
// front-end that lives outside this module).
package apperr

import "errors"

var (
	// ErrQueueNotFound is returned when a queue name has no row.
	ErrQueueNotFound = errors.New("queue not found")
	// ErrQueuePaused is returned by Add when the target queue is paused.
	ErrQueuePaused = errors.New("queue is paused")
	// ErrJobNotFound is returned when a job id or custom id has no row.
	ErrJobNotFound = errors.New("job not found")
	// ErrCustomIDConflict is returned when a custom_id already exists.
	ErrCustomIDConflict = errors.New("custom id already exists")
	// ErrInvalidOptions is returned when a job option fails validation.
	ErrInvalidOptions = errors.New("invalid job options")
	// ErrNotPending is returned when an operation requires PENDING but
	// the job is in some other status.
	ErrNotPending = errors.New("job is not pending")
	// ErrNotRunning is returned when an operation requires RUNNING but
	// the job is in some other status.
	ErrNotRunning = errors.New("job is not running")
	// ErrTimeout is returned by the remote executor when a job's
	// configured timeout elapses before the command finishes.
	ErrTimeout = errors.New("job execution timed out")
	// ErrSSHConfig is returned when an SSH configuration is invalid,
	// e.g. neither or both of password/private key are set.
	ErrSSHConfig = errors.New("invalid ssh configuration")
	// ErrNotConnected is returned by executor operations issued before
	// Connect or after Disconnect.
	ErrNotConnected = errors.New("remote executor is not connected")
)
