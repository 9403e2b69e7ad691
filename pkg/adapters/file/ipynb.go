package file

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/ports"
)

// multiline is nbformat's "string or list of lines" text field.
type multiline string

func (m *multiline) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = multiline(s)
		return nil
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return err
	}
	*m = multiline(strings.Join(lines, ""))
	return nil
}

// splitLines splits text into lines that keep their trailing newline.
func splitLines(text string) []string {
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

type ipynbNotebook struct {
	Cells         []ipynbCell    `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
}

type ipynbCell struct {
	ID             string        `json:"id"`
	CellType       string        `json:"cell_type"`
	Source         multiline     `json:"source"`
	ExecutionCount *int          `json:"execution_count"`
	Outputs        []ipynbOutput `json:"outputs"`
}

type ipynbOutput struct {
	OutputType     string         `json:"output_type"`
	Name           string         `json:"name"`
	Text           multiline      `json:"text"`
	Data           map[string]any `json:"data"`
	Metadata       map[string]any `json:"metadata"`
	ExecutionCount *int           `json:"execution_count"`
	EName          string         `json:"ename"`
	EValue         string         `json:"evalue"`
	Traceback      []string       `json:"traceback"`
}

// decodeNotebook converts nbformat v4 into a document. Stored outputs become
// a sealed Result stamped with the given time.
func decodeNotebook(data []byte, stamp time.Time) (*ports.Document, error) {
	var nb ipynbNotebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, err
	}

	doc := &ports.Document{
		Cells:    make([]ports.DocumentCell, 0, len(nb.Cells)),
		Metadata: nb.Metadata,
	}
	for _, c := range nb.Cells {
		dc := ports.DocumentCell{ID: c.ID, Type: c.CellType, Source: string(c.Source)}
		if c.CellType == string(domain.CellCode) && (len(c.Outputs) > 0 || c.ExecutionCount != nil) {
			dc.Result = decodeResult(c, stamp)
		}
		doc.Cells = append(doc.Cells, dc)
	}
	return doc, nil
}

func decodeResult(c ipynbCell, stamp time.Time) *domain.Result {
	r := domain.NewResult(stamp)
	r.ExecutionCount = c.ExecutionCount
	for _, o := range c.Outputs {
		switch domain.OutputType(o.OutputType) {
		case domain.OutputStream:
			// Files often split one stream across entries; fold so they merge.
			r = domain.Apply(r, domain.StreamEvent{Name: domain.StreamName(o.Name), Text: string(o.Text)})
		case domain.OutputDisplayData:
			r.Outputs = append(r.Outputs, domain.Output{Type: domain.OutputDisplayData, Data: o.Data, Metadata: o.Metadata})
		case domain.OutputExecuteResult:
			r.Outputs = append(r.Outputs, domain.Output{
				Type:           domain.OutputExecuteResult,
				Data:           o.Data,
				Metadata:       o.Metadata,
				ExecutionCount: o.ExecutionCount,
			})
		case domain.OutputError:
			r.Status = domain.StatusError
			r.Outputs = append(r.Outputs, domain.NewErrorOutput(o.EName, o.EValue, o.Traceback))
		}
	}
	sealed := domain.Complete(r, stamp)
	return &sealed
}

// encodeNotebook converts a document into nbformat v4.5.
func encodeNotebook(doc *ports.Document) ([]byte, error) {
	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	cells := make([]map[string]any, 0, len(doc.Cells))
	for _, c := range doc.Cells {
		cell := map[string]any{
			"id":        c.ID,
			"cell_type": c.Type,
			"metadata":  map[string]any{},
			"source":    splitLines(c.Source),
		}
		if c.Type == string(domain.CellCode) {
			outputs := []map[string]any{}
			var count *int
			if c.Result != nil {
				count = c.Result.ExecutionCount
				for _, o := range c.Result.Outputs {
					outputs = append(outputs, encodeOutput(o))
				}
			}
			cell["execution_count"] = count
			cell["outputs"] = outputs
		}
		cells = append(cells, cell)
	}

	return json.MarshalIndent(map[string]any{
		"cells":          cells,
		"metadata":       metadata,
		"nbformat":       4,
		"nbformat_minor": 5,
	}, "", " ")
}

func encodeOutput(o domain.Output) map[string]any {
	out := map[string]any{"output_type": string(o.Type)}
	switch o.Type {
	case domain.OutputStream:
		out["name"] = string(o.Name)
		out["text"] = splitLines(o.Text)
	case domain.OutputDisplayData, domain.OutputExecuteResult:
		data := map[string]any(o.Data)
		if data == nil {
			data = map[string]any{}
		}
		metadata := o.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		out["data"] = data
		out["metadata"] = metadata
		if o.Type == domain.OutputExecuteResult {
			out["execution_count"] = o.ExecutionCount
		}
	case domain.OutputError:
		traceback := o.Traceback
		if traceback == nil {
			traceback = []string{}
		}
		out["ename"] = o.ErrorName
		out["evalue"] = o.Message
		out["traceback"] = traceback
	}
	return out
}
