package ports

import (
	"context"

	"github.com/aretw0/quill/pkg/domain"
)

// DocumentCell is a cell as stored in a document. ID may be empty.
type DocumentCell struct {
	ID     string         `json:"id,omitempty" yaml:"id,omitempty"`
	Type   string         `json:"type" yaml:"type"`
	Source string         `json:"source" yaml:"source"`
	Result *domain.Result `json:"result,omitempty" yaml:"-"`
}

// Document is the format-neutral content of a notebook file.
type Document struct {
	Cells    []DocumentCell `json:"cells" yaml:"cells"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// DocumentStore reads notebook documents.
type DocumentStore interface {
	Load(ctx context.Context, path string) (*Document, error)
}

// DocumentWriter is implemented by stores that can write documents back.
type DocumentWriter interface {
	Save(ctx context.Context, path string, doc *Document) error
}
