package domain

import (
	"reflect"
	"time"
)

// ResultDiff represents the renderable changes between two Results of a cell.
// It is designed to be serialized to JSON for partial updates on the client.
type ResultDiff struct {
	// CellID is always present to identify the target.
	CellID string `json:"cell_id"`

	// Cleared means the Result was discarded. No other field is set.
	Cleared bool `json:"cleared,omitempty"`

	// Reset means a new execution started and the client must drop its copy.
	Reset bool `json:"reset,omitempty"`

	Status         *ExecutionStatus `json:"status,omitempty"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
	ExecutionCount *int             `json:"execution_count,omitempty"`

	Outputs *OutputsDelta `json:"outputs,omitempty"`
}

// OutputsDelta describes how to turn the old output list into the new one:
// truncate to Keep entries, overwrite Replaced positions, then append Appended.
type OutputsDelta struct {
	Keep     int            `json:"keep"`
	Replaced map[int]Output `json:"replaced,omitempty"`
	Appended []Output       `json:"appended,omitempty"`
}

// DiffResult calculates the difference between oldResult and newResult.
// reset marks newResult as a different execution than oldResult; the owner of
// the cell knows that, timestamps alone cannot tell two runs apart.
// It returns nil when nothing renderable changed.
func DiffResult(cellID string, oldResult, newResult *Result, reset bool) *ResultDiff {
	if newResult == nil {
		if oldResult == nil {
			return nil
		}
		return &ResultDiff{CellID: cellID, Cleared: true}
	}

	diff := &ResultDiff{CellID: cellID}

	if reset || oldResult == nil {
		diff.Reset = true
		oldResult = &Result{}
		started := newResult.StartedAt
		diff.StartedAt = &started
	}

	if oldResult.Status != newResult.Status {
		status := newResult.Status
		diff.Status = &status
	}
	if newResult.FinishedAt != nil && (oldResult.FinishedAt == nil || !oldResult.FinishedAt.Equal(*newResult.FinishedAt)) {
		finished := *newResult.FinishedAt
		diff.FinishedAt = &finished
	}
	if newResult.ExecutionCount != nil && (oldResult.ExecutionCount == nil || *oldResult.ExecutionCount != *newResult.ExecutionCount) {
		count := *newResult.ExecutionCount
		diff.ExecutionCount = &count
	}

	diff.Outputs = diffOutputs(oldResult.Outputs, newResult.Outputs)

	if !diff.Reset &&
		diff.Status == nil &&
		diff.FinishedAt == nil &&
		diff.ExecutionCount == nil &&
		diff.Outputs == nil {
		return nil
	}
	return diff
}

func diffOutputs(oldOutputs, newOutputs []Output) *OutputsDelta {
	keep := min(len(oldOutputs), len(newOutputs))
	delta := &OutputsDelta{Keep: keep}

	for i := 0; i < keep; i++ {
		if !reflect.DeepEqual(oldOutputs[i], newOutputs[i]) {
			if delta.Replaced == nil {
				delta.Replaced = make(map[int]Output)
			}
			delta.Replaced[i] = newOutputs[i]
		}
	}
	if len(newOutputs) > keep {
		delta.Appended = append([]Output(nil), newOutputs[keep:]...)
	}

	if keep == len(oldOutputs) && len(delta.Replaced) == 0 && len(delta.Appended) == 0 {
		return nil
	}
	return delta
}

// ApplyTo replays the diff on a client-side copy of the Result.
func (d *ResultDiff) ApplyTo(r *Result) *Result {
	if d.Cleared {
		return nil
	}
	var next Result
	if r == nil || d.Reset {
		next = Result{Outputs: []Output{}}
	} else {
		next = r.Clone()
	}

	if d.StartedAt != nil {
		next.StartedAt = *d.StartedAt
	}
	if d.Status != nil {
		next.Status = *d.Status
	}
	if d.FinishedAt != nil {
		finished := *d.FinishedAt
		next.FinishedAt = &finished
	}
	if d.ExecutionCount != nil {
		count := *d.ExecutionCount
		next.ExecutionCount = &count
	}
	if d.Outputs != nil {
		outputs := append([]Output{}, next.Outputs[:min(d.Outputs.Keep, len(next.Outputs))]...)
		for i, out := range d.Outputs.Replaced {
			if i < len(outputs) {
				outputs[i] = out
			}
		}
		next.Outputs = append(outputs, d.Outputs.Appended...)
	}
	return &next
}
