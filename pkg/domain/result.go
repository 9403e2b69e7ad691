package domain

import (
	"maps"
	"slices"
	"time"
)

// ExecutionStatus is the resolved state of a Result.
type ExecutionStatus string

const (
	StatusRunning ExecutionStatus = "running"
	StatusSuccess ExecutionStatus = "success"
	StatusError   ExecutionStatus = "error"
)

// Result is the renderable state of one cell's most recent execution.
//
// Outputs grows only by append or wholesale clear. Every index stored in
// Displays is a valid index into Outputs.
type Result struct {
	Status     ExecutionStatus `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`

	// ExecutionCount is the ordinal assigned by the session.
	ExecutionCount *int `json:"execution_count,omitempty"`

	Outputs []Output `json:"outputs"`

	// Displays maps a display id to the index of its most recent Output.
	Displays map[string]int `json:"displays,omitempty"`

	// PendingClear is set by clear_output(wait=true) and consumed by the
	// next non-clear event.
	PendingClear bool `json:"pending_clear,omitempty"`
}

// NewResult returns a freshly running Result.
func NewResult(startedAt time.Time) Result {
	return Result{
		Status:    StatusRunning,
		StartedAt: startedAt,
		Outputs:   []Output{},
		Displays:  map[string]int{},
	}
}

// Running reports whether the result has not been sealed yet.
func (r Result) Running() bool {
	return r.FinishedAt == nil
}

// Duration returns the elapsed time of a sealed result, or zero.
func (r Result) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Clone returns a copy that shares no mutable containers with r.
// Output payload maps are shared because the reducer never mutates them in place.
func (r Result) Clone() Result {
	out := r
	out.Outputs = slices.Clone(r.Outputs)
	if out.Outputs == nil {
		out.Outputs = []Output{}
	}
	out.Displays = maps.Clone(r.Displays)
	if out.Displays == nil {
		out.Displays = map[string]int{}
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	if r.ExecutionCount != nil {
		n := *r.ExecutionCount
		out.ExecutionCount = &n
	}
	return out
}
