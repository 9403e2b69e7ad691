package domain

import "time"

// TransportErrorName is the error name of the synthetic output appended when
// an event stream aborts abnormally.
const TransportErrorName = "TransportError"

// Apply folds one execution event into the current Result and returns the
// next Result. It never mutates current.
//
// Events must be applied in delivery order. Unknown variants leave the
// Result unchanged.
func Apply(current Result, event ExecutionEvent) Result {
	switch event.(type) {
	case StreamEvent, ErrorEvent, ExecuteResultEvent, DisplayDataEvent, UpdateDisplayDataEvent, ClearOutputEvent:
	default:
		return current
	}

	next := current.Clone()

	// A deferred clear runs as the first effect of the next non-clear event.
	if _, isClear := event.(ClearOutputEvent); !isClear && next.PendingClear {
		next.clearOutputs()
	}

	switch e := event.(type) {
	case StreamEvent:
		next.appendStream(e.Name, e.Text)

	case ErrorEvent:
		next.Status = StatusError
		next.Outputs = append(next.Outputs, NewErrorOutput(e.Name, e.Message, e.Traceback))

	case ExecuteResultEvent:
		count := e.ExecutionCount
		next.ExecutionCount = &count
		ordinal := count
		next.Outputs = append(next.Outputs, Output{
			Type:           OutputExecuteResult,
			ExecutionCount: &ordinal,
			Data:           e.Data,
			Metadata:       e.Metadata,
		})

	case DisplayDataEvent:
		next.Outputs = append(next.Outputs, Output{
			Type:     OutputDisplayData,
			Data:     e.Data,
			Metadata: e.Metadata,
		})
		if e.DisplayID != "" {
			next.Displays[e.DisplayID] = len(next.Outputs) - 1
		}

	case UpdateDisplayDataEvent:
		idx, ok := next.Displays[e.DisplayID]
		if !ok {
			// No known target. It may have raced with a clear.
			return next
		}
		out := next.Outputs[idx]
		out.Data = e.Data
		out.Metadata = e.Metadata
		next.Outputs[idx] = out

	case ClearOutputEvent:
		if e.Wait {
			next.PendingClear = true
		} else {
			next.clearOutputs()
		}
	}

	return next
}

// Complete seals a Result whose event stream ended normally. A running
// status resolves to success; an error status is kept.
func Complete(current Result, at time.Time) Result {
	next := current.Clone()
	if next.Status == StatusRunning {
		next.Status = StatusSuccess
	}
	next.seal(at)
	return next
}

// Fail seals a Result whose dispatch or event stream aborted. A synthetic
// error output describing the failure is appended regardless of prior outputs.
func Fail(current Result, cause error, at time.Time) Result {
	next := current.Clone()
	msg := "execution failed"
	if cause != nil {
		msg = cause.Error()
	}
	next.Outputs = append(next.Outputs, NewErrorOutput(TransportErrorName, msg, nil))
	next.Status = StatusError
	next.seal(at)
	return next
}

func (r *Result) seal(at time.Time) {
	r.PendingClear = false
	if r.FinishedAt != nil {
		return
	}
	if at.Before(r.StartedAt) {
		at = r.StartedAt
	}
	r.FinishedAt = &at
}

func (r *Result) clearOutputs() {
	r.Outputs = []Output{}
	r.Displays = map[string]int{}
	r.PendingClear = false
}

func (r *Result) appendStream(name StreamName, text string) {
	if text == "" {
		return
	}
	chunk := NewStreamOutput(name, text)
	if n := len(r.Outputs); n > 0 && r.Outputs[n-1].mergeable(chunk) {
		last := r.Outputs[n-1]
		last.Text += text
		r.Outputs[n-1] = last
		return
	}
	r.Outputs = append(r.Outputs, chunk)
}
