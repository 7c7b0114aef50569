package entity

import (
	"fmt"

	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/apperr"
)

// JobOptions is the recognized bag of per-job overrides. A zero value
// means "not set" for pointer-typed fields so that merging with queue
// defaults can distinguish "explicitly zero" from "absent".
type JobOptions struct {
	CustomID    *string `json:"customId,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	MaxAttempts *int    `json:"maxAttempts,omitempty"`
	Timeout     *int    `json:"timeout,omitempty"` // seconds; nil = no timeout
	WorkingDir  *string `json:"workingDir,omitempty"`
	KeepLogs    *int    `json:"keepLogs,omitempty"`
}

// Defaults are the values used when neither the queue nor the caller
// supplies an option.
const (
	DefaultPriority    = 0
	DefaultMaxAttempts = 1
	DefaultKeepLogs    = 50
)

// Merge shallow-merges o over base: any field set on o wins, otherwise
// base's value is used. Neither argument is mutated.
func (o JobOptions) Merge(base JobOptions) JobOptions {
	merged := base
	if o.CustomID != nil {
		merged.CustomID = o.CustomID
	}
	if o.Priority != nil {
		merged.Priority = o.Priority
	}
	if o.MaxAttempts != nil {
		merged.MaxAttempts = o.MaxAttempts
	}
	if o.Timeout != nil {
		merged.Timeout = o.Timeout
	}
	if o.WorkingDir != nil {
		merged.WorkingDir = o.WorkingDir
	}
	if o.KeepLogs != nil {
		merged.KeepLogs = o.KeepLogs
	}
	return merged
}

// Resolved fills in the engine defaults for any field still unset
// after merging queue defaults with per-job overrides.
func (o JobOptions) Resolved() JobOptions {
	r := o
	if r.Priority == nil {
		p := DefaultPriority
		r.Priority = &p
	}
	if r.MaxAttempts == nil {
		m := DefaultMaxAttempts
		r.MaxAttempts = &m
	}
	if r.KeepLogs == nil {
		k := DefaultKeepLogs
		r.KeepLogs = &k
	}
	return r
}

// Validate checks the option invariants a caller may have set
// explicitly: maxAttempts and keepLogs, when present, must be at
// least 1. Unset fields (nil) are not checked here; Resolved fills
// them with in-range defaults before persistence.
func (o JobOptions) Validate() error {
	if o.MaxAttempts != nil && *o.MaxAttempts < 1 {
		return fmt.Errorf("%w: maxAttempts must be >= 1, got %d", apperr.ErrInvalidOptions, *o.MaxAttempts)
	}
	if o.KeepLogs != nil && *o.KeepLogs < 1 {
		return fmt.Errorf("%w: keepLogs must be >= 1, got %d", apperr.ErrInvalidOptions, *o.KeepLogs)
	}
	return nil
}
