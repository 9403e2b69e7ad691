package notebook

import (
	"maps"

	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/ports"
	"github.com/aretw0/quill/pkg/session"
)

// State is a read-only copy of the container.
type State struct {
	Path     string
	LoadErr  error
	Loaded   bool
	Order    []string
	Cells    map[string]domain.Cell
	Metadata map[string]any
	Kernel   *session.Handle
}

// Cell returns the cell with the given id.
func (s State) Cell(id string) (domain.Cell, bool) {
	c, ok := s.Cells[id]
	return c, ok
}

// Ordered returns the cells in notebook order.
func (s State) Ordered() []domain.Cell {
	out := make([]domain.Cell, 0, len(s.Order))
	for _, id := range s.Order {
		if c, ok := s.Cells[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Document converts the state back into a format-neutral document.
func (s State) Document() *ports.Document {
	doc := &ports.Document{
		Cells:    make([]ports.DocumentCell, 0, len(s.Order)),
		Metadata: maps.Clone(s.Metadata),
	}
	for _, c := range s.Ordered() {
		doc.Cells = append(doc.Cells, ports.DocumentCell{
			ID:     c.ID,
			Type:   string(c.Type),
			Source: c.InitialText,
			Result: c.Result,
		})
	}
	return doc
}

// ChangeKind classifies a Change.
type ChangeKind string

const (
	// ChangeCells means the cell order, a cell type or the cell set changed.
	ChangeCells ChangeKind = "cells"
	// ChangeResult means the Result of CellID changed. Diff describes how.
	ChangeResult ChangeKind = "result"
	// ChangeDocument means the path, load status or whole document changed.
	ChangeDocument ChangeKind = "document"
	// ChangeKernel means the kernel handle was replaced.
	ChangeKernel ChangeKind = "kernel"
)

// Change is the notification delivered to subscribers after a mutation.
type Change struct {
	Kind   ChangeKind         `json:"kind"`
	CellID string             `json:"cell_id,omitempty"`
	Diff   *domain.ResultDiff `json:"diff,omitempty"`
}
