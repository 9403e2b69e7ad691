package domain

// CellType tags the kind of content a cell holds.
type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
)

// Valid reports whether the type is one the notebook supports.
func (t CellType) Valid() bool {
	return t == CellCode || t == CellMarkdown
}

// Cell is a single entry of a notebook.
type Cell struct {
	ID   string   `json:"id" yaml:"id"`
	Type CellType `json:"type" yaml:"type"`

	// InitialText seeds the editing surface. It is not a live mirror of the
	// editor after the first edit.
	InitialText string `json:"initial_text" yaml:"source"`

	// Result is nil until the cell is executed, and again after a clear.
	Result *Result `json:"result,omitempty" yaml:"-"`
}

// Clone returns a copy of the cell whose Result can be mutated independently.
func (c Cell) Clone() Cell {
	if c.Result != nil {
		r := c.Result.Clone()
		c.Result = &r
	}
	return c
}
