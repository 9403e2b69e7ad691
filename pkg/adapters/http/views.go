package http

import (
	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/notebook"
	"github.com/aretw0/quill/pkg/session"
)

// CellView is a cell as served to renderers. Source is the current editor
// text, which may differ from InitialText after edits.
type CellView struct {
	domain.Cell
	Source string `json:"source"`
}

// KernelView describes the kernel session of the notebook.
type KernelView struct {
	Name      string `json:"name"`
	Language  string `json:"language,omitempty"`
	Ready     bool   `json:"ready"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NotebookView is the response of GET /notebook.
type NotebookView struct {
	Path      string      `json:"path,omitempty"`
	Loaded    bool        `json:"loaded"`
	LoadError string      `json:"load_error,omitempty"`
	Kernel    *KernelView `json:"kernel,omitempty"`
	Cells     []CellView  `json:"cells"`
}

// ExecuteResponse is the response of a cell execution.
type ExecuteResponse struct {
	Cell  CellView `json:"cell"`
	Error string   `json:"error,omitempty"`
}

// AddCellRequest is the body of POST /cells.
type AddCellRequest struct {
	Type   domain.CellType `json:"type"`
	Source string          `json:"source"`
}

// SourceRequest is the body of PUT /cells/{id}/source.
type SourceRequest struct {
	Source string `json:"source"`
}

func viewKernel(h *session.Handle) *KernelView {
	if h == nil {
		return nil
	}
	spec := h.Spec()
	v := &KernelView{Name: spec.Name, Language: spec.Language, Ready: h.Ready(), SessionID: h.ID()}
	if err := h.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

func (s *Server) viewCell(c domain.Cell) CellView {
	v := CellView{Cell: c, Source: c.InitialText}
	if text, ok := s.notebook.Source(c.ID); ok {
		v.Source = text
	}
	return v
}

func (s *Server) viewNotebook(state notebook.State) NotebookView {
	v := NotebookView{
		Path:   state.Path,
		Loaded: state.Loaded,
		Kernel: viewKernel(state.Kernel),
		Cells:  make([]CellView, 0, len(state.Order)),
	}
	if state.LoadErr != nil {
		v.LoadError = state.LoadErr.Error()
	}
	for _, c := range state.Ordered() {
		v.Cells = append(v.Cells, s.viewCell(c))
	}
	return v
}
