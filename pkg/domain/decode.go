package domain

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Wire keys of an encoded execution event: {"event": <kind>, "data": <payload>}.
const (
	KeyEvent = "event"
	KeyData  = "data"
)

// EventDisconnect is the wire tag transports use to report a lost kernel.
const EventDisconnect EventKind = "disconnect"

type wireRich struct {
	ExecutionCount int            `mapstructure:"execution_count"`
	Data           map[string]any `mapstructure:"data"`
	Metadata       map[string]any `mapstructure:"metadata"`
	DisplayID      string         `mapstructure:"display_id"`
	Transient      struct {
		DisplayID string `mapstructure:"display_id"`
	} `mapstructure:"transient"`
}

func (w wireRich) displayID() string {
	if w.DisplayID != "" {
		return w.DisplayID
	}
	return w.Transient.DisplayID
}

type wireError struct {
	Name      string   `mapstructure:"ename"`
	Message   string   `mapstructure:"evalue"`
	Traceback []string `mapstructure:"traceback"`
}

type wireClear struct {
	Wait bool `mapstructure:"wait"`
}

// DecodeEvent turns a generic event object into a typed ExecutionEvent.
//
// Unrecognized kinds decode to UnknownEvent. A "disconnect" event decodes to
// an error wrapping ErrKernelDisconnected, since it terminates the stream.
func DecodeEvent(raw map[string]any) (ExecutionEvent, error) {
	kind, _ := raw[KeyEvent].(string)
	data := raw[KeyData]

	switch EventKind(kind) {
	case EventStdout, EventStderr:
		text, err := decodeText(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		name := Stdout
		if EventKind(kind) == EventStderr {
			name = Stderr
		}
		return StreamEvent{Name: name, Text: text}, nil

	case EventExecuteResult:
		var w wireRich
		if err := decodeInto(data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return ExecuteResultEvent{ExecutionCount: w.ExecutionCount, Data: w.Data, Metadata: w.Metadata}, nil

	case EventDisplayData:
		var w wireRich
		if err := decodeInto(data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return DisplayDataEvent{Data: w.Data, Metadata: w.Metadata, DisplayID: w.displayID()}, nil

	case EventUpdateDisplayData:
		var w wireRich
		if err := decodeInto(data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return UpdateDisplayDataEvent{Data: w.Data, Metadata: w.Metadata, DisplayID: w.displayID()}, nil

	case EventError:
		var w wireError
		if err := decodeInto(data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return ErrorEvent{Name: w.Name, Message: w.Message, Traceback: w.Traceback}, nil

	case EventClearOutput:
		var w wireClear
		if err := decodeInto(data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return ClearOutputEvent{Wait: w.Wait}, nil

	case EventDisconnect:
		reason, _ := data.(string)
		return nil, fmt.Errorf("%w: %s", ErrKernelDisconnected, reason)

	default:
		payload, _ := data.(map[string]any)
		return UnknownEvent{Type: kind, Payload: payload}, nil
	}
}

// EncodeEvent is the inverse of DecodeEvent.
func EncodeEvent(event ExecutionEvent) map[string]any {
	var data any
	switch e := event.(type) {
	case StreamEvent:
		data = e.Text
	case ExecuteResultEvent:
		data = map[string]any{"execution_count": e.ExecutionCount, "data": map[string]any(e.Data), "metadata": e.Metadata}
	case DisplayDataEvent:
		data = map[string]any{"data": map[string]any(e.Data), "metadata": e.Metadata, "transient": map[string]any{"display_id": e.DisplayID}}
	case UpdateDisplayDataEvent:
		data = map[string]any{"data": map[string]any(e.Data), "metadata": e.Metadata, "transient": map[string]any{"display_id": e.DisplayID}}
	case ErrorEvent:
		data = map[string]any{"ename": e.Name, "evalue": e.Message, "traceback": e.Traceback}
	case ClearOutputEvent:
		data = map[string]any{"wait": e.Wait}
	case UnknownEvent:
		data = e.Payload
	}
	return map[string]any{KeyEvent: string(event.Kind()), KeyData: data}
}

func decodeText(data any) (string, error) {
	switch v := data.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		var lines []string
		if err := decodeInto(v, &lines); err != nil {
			return "", err
		}
		return strings.Join(lines, ""), nil
	}
}

func decodeInto(data any, target any) error {
	if data == nil {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(data)
}
