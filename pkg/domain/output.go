package domain

import (
	"maps"
	"slices"
	"strings"
)

// OutputType discriminates the Output variants.
type OutputType string

const (
	OutputStream        OutputType = "stream"
	OutputDisplayData   OutputType = "display_data"
	OutputExecuteResult OutputType = "execute_result"
	OutputError         OutputType = "error"
)

// StreamName identifies the stream a text chunk was written to.
type StreamName string

const (
	Stdout StreamName = "stdout"
	Stderr StreamName = "stderr"
)

// MimeBundle maps a MIME type to its payload. Values are either a string or
// a list of strings (lines) as emitted by the kernel.
type MimeBundle map[string]any

// Text returns the payload for a MIME type as a single string.
func (b MimeBundle) Text(mime string) (string, bool) {
	switch v := b[mime].(type) {
	case string:
		return v, true
	case []string:
		return strings.Join(v, ""), true
	case []any:
		var sb strings.Builder
		for _, line := range v {
			s, ok := line.(string)
			if !ok {
				return "", false
			}
			sb.WriteString(s)
		}
		return sb.String(), true
	default:
		return "", false
	}
}

// MIMETypes returns the keys of the bundle in sorted order.
func (b MimeBundle) MIMETypes() []string {
	return slices.Sorted(maps.Keys(b))
}

// Output is one entry of a Result. Only the fields relevant to Type are set.
type Output struct {
	Type OutputType `json:"output_type"`

	// stream
	Name StreamName `json:"name,omitempty"`
	Text string     `json:"text,omitempty"`

	// display_data, execute_result
	Data     MimeBundle     `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// execute_result
	ExecutionCount *int `json:"execution_count,omitempty"`

	// error
	ErrorName string   `json:"ename,omitempty"`
	Message   string   `json:"evalue,omitempty"`
	Traceback []string `json:"traceback,omitempty"`
}

// NewStreamOutput builds a stream output.
func NewStreamOutput(name StreamName, text string) Output {
	return Output{Type: OutputStream, Name: name, Text: text}
}

// NewErrorOutput builds an error output.
func NewErrorOutput(name, message string, traceback []string) Output {
	return Output{Type: OutputError, ErrorName: name, Message: message, Traceback: traceback}
}

// mergeable reports whether next can be folded into o by text concatenation.
func (o Output) mergeable(next Output) bool {
	return o.Type == OutputStream && next.Type == OutputStream && o.Name == next.Name
}

// PlainText renders the output for text-only consumers. Rich payloads without
// a text/plain entry are summarized by their MIME types.
func (o Output) PlainText() string {
	switch o.Type {
	case OutputStream:
		return o.Text
	case OutputError:
		if o.Message == "" {
			return o.ErrorName
		}
		return o.ErrorName + ": " + o.Message
	default:
		if text, ok := o.Data.Text("text/plain"); ok {
			return text
		}
		return "<" + strings.Join(o.Data.MIMETypes(), ", ") + ">"
	}
}
