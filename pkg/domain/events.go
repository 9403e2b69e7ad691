package domain

import (
	"context"
	"time"
)

// EventKind names an ExecutionEvent variant on the wire.
type EventKind string

const (
	EventStdout            EventKind = "stdout"
	EventStderr            EventKind = "stderr"
	EventExecuteResult     EventKind = "execute_result"
	EventDisplayData       EventKind = "display_data"
	EventUpdateDisplayData EventKind = "update_display_data"
	EventError             EventKind = "error"
	EventClearOutput       EventKind = "clear_output"
)

// ExecutionEvent is one message of the ordered stream produced by a single
// dispatch. The set of variants is closed; UnknownEvent carries anything a
// newer transport may emit.
type ExecutionEvent interface {
	Kind() EventKind
	isExecutionEvent()
}

// StreamEvent is text written to stdout or stderr.
type StreamEvent struct {
	Name StreamName `json:"name"`
	Text string     `json:"text"`
}

// ExecuteResultEvent carries the value of the last expression.
type ExecuteResultEvent struct {
	ExecutionCount int            `json:"execution_count"`
	Data           MimeBundle     `json:"data"`
	Metadata       map[string]any `json:"metadata"`
}

// DisplayDataEvent registers a rich display artifact.
type DisplayDataEvent struct {
	Data      MimeBundle     `json:"data"`
	Metadata  map[string]any `json:"metadata"`
	DisplayID string         `json:"display_id,omitempty"`
}

// UpdateDisplayDataEvent revises a display artifact in place.
type UpdateDisplayDataEvent struct {
	Data      MimeBundle     `json:"data"`
	Metadata  map[string]any `json:"metadata"`
	DisplayID string         `json:"display_id"`
}

// ErrorEvent reports an exception raised by the executed code.
type ErrorEvent struct {
	Name      string   `json:"ename"`
	Message   string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// ClearOutputEvent asks the frontend to clear the cell output.
type ClearOutputEvent struct {
	Wait bool `json:"wait"`
}

// UnknownEvent is an unrecognized variant. The reducer ignores it.
type UnknownEvent struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (e StreamEvent) Kind() EventKind {
	if e.Name == Stderr {
		return EventStderr
	}
	return EventStdout
}
func (ExecuteResultEvent) Kind() EventKind     { return EventExecuteResult }
func (DisplayDataEvent) Kind() EventKind       { return EventDisplayData }
func (UpdateDisplayDataEvent) Kind() EventKind { return EventUpdateDisplayData }
func (ErrorEvent) Kind() EventKind             { return EventError }
func (ClearOutputEvent) Kind() EventKind       { return EventClearOutput }
func (e UnknownEvent) Kind() EventKind         { return EventKind(e.Type) }

func (StreamEvent) isExecutionEvent()            {}
func (ExecuteResultEvent) isExecutionEvent()     {}
func (DisplayDataEvent) isExecutionEvent()       {}
func (UpdateDisplayDataEvent) isExecutionEvent() {}
func (ErrorEvent) isExecutionEvent()             {}
func (ClearOutputEvent) isExecutionEvent()       {}
func (UnknownEvent) isExecutionEvent()           {}

// ExecutionInfo describes one execution for observability hooks.
type ExecutionInfo struct {
	Timestamp  time.Time       `json:"timestamp"`
	CellID     string          `json:"cell_id"`
	SessionID  string          `json:"session_id,omitempty"`
	Generation uint64          `json:"generation"`
	Status     ExecutionStatus `json:"status,omitempty"`
	Duration   time.Duration   `json:"duration,omitempty"`
	Err        error           `json:"-"`
}

// LifecycleHooks defines callbacks for orchestrator observability.
type LifecycleHooks struct {
	OnExecuteStart  func(context.Context, *ExecutionInfo)
	OnEvent         func(context.Context, *ExecutionInfo, ExecutionEvent)
	OnExecuteFinish func(context.Context, *ExecutionInfo)
}
