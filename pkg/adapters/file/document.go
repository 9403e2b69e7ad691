package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/ports"
	"gopkg.in/yaml.v3"
)

// DocumentStore reads and writes notebooks on the local filesystem.
// The format is chosen by extension: .ipynb (nbformat v4) or .yaml/.yml.
type DocumentStore struct{}

// NewDocumentStore creates a DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{}
}

var (
	_ ports.DocumentStore  = (*DocumentStore)(nil)
	_ ports.DocumentWriter = (*DocumentStore)(nil)
)

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ipynb":
		return "ipynb"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return ""
	}
}

// Load implements ports.DocumentStore.
func (s *DocumentStore) Load(ctx context.Context, path string) (*ports.Document, error) {
	kind := format(path)
	if kind == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, filepath.Ext(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat notebook: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read notebook: %w", err)
	}

	var doc *ports.Document
	switch kind {
	case "ipynb":
		doc, err = decodeNotebook(data, info.ModTime())
	case "yaml":
		doc = &ports.Document{}
		err = yaml.Unmarshal(data, doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse notebook %s: %w", path, err)
	}
	return doc, nil
}

// Save implements ports.DocumentWriter. YAML documents do not keep outputs.
func (s *DocumentStore) Save(ctx context.Context, path string, doc *ports.Document) error {
	var (
		data []byte
		err  error
	)
	switch format(path) {
	case "ipynb":
		data, err = encodeNotebook(doc)
	case "yaml":
		data, err = yaml.Marshal(doc)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to encode notebook: %w", err)
	}
	return writeAtomic(path, data)
}
