package notebook

import (
	"sync"

	"github.com/aretw0/quill/pkg/ports"
)

// Editors maps cell ids to their editing-surface handles.
// A cell may exist in the Container without a registered editor.
type Editors struct {
	mu      sync.RWMutex
	sources map[string]*registration
}

type registration struct {
	src ports.SourceProvider
}

// NewEditors creates an empty registry.
func NewEditors() *Editors {
	return &Editors{sources: make(map[string]*registration)}
}

// Register attaches a handle to a cell, replacing any previous one.
// The returned function detaches it again, unless it was replaced meanwhile.
func (e *Editors) Register(cellID string, src ports.SourceProvider) func() {
	reg := &registration{src: src}
	e.mu.Lock()
	e.sources[cellID] = reg
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.sources[cellID] == reg {
			delete(e.sources, cellID)
		}
	}
}

// Unregister detaches the handle of a cell.
func (e *Editors) Unregister(cellID string) {
	e.mu.Lock()
	delete(e.sources, cellID)
	e.mu.Unlock()
}

// Lookup returns the handle of a cell.
func (e *Editors) Lookup(cellID string) (ports.SourceProvider, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	reg, ok := e.sources[cellID]
	if !ok {
		return nil, false
	}
	return reg.src, true
}

// Source reads the current text of a cell's editor.
func (e *Editors) Source(cellID string) (string, bool) {
	src, ok := e.Lookup(cellID)
	if !ok {
		return "", false
	}
	return src.Source(), true
}

// TextBuffer is a minimal editing surface holding plain text.
type TextBuffer struct {
	mu   sync.RWMutex
	text string
}

// NewTextBuffer creates a buffer seeded with text.
func NewTextBuffer(text string) *TextBuffer {
	return &TextBuffer{text: text}
}

// Source implements ports.SourceProvider.
func (b *TextBuffer) Source() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text
}

// Set replaces the buffer content.
func (b *TextBuffer) Set(text string) {
	b.mu.Lock()
	b.text = text
	b.mu.Unlock()
}
